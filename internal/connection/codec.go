package connection

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickhub/internal/model"
)

// MaxInstrumentsPerRequest is the provider's cap on one subscribe request.
const MaxInstrumentsPerRequest = 100

// Request codes.
const (
	requestDisconnect       = 12
	requestSubscribeTicker  = 15
	requestUnsubscribeTick  = 16
	requestSubscribeQuote   = 17
	requestUnsubscribeQuote = 18
	requestSubscribeFull    = 21
	requestUnsubscribeFull  = 22
)

// Response (packet) codes, first byte of the binary header.
const (
	packetTicker     = 2
	packetQuote      = 4
	packetOI         = 5
	packetPrevClose  = 6
	packetFull       = 8
	packetDisconnect = 50
)

// Packet sizes including the header.
const (
	headerSize          = 8
	tickerPacketSize    = 16
	quotePacketSize     = 50
	oiPacketSize        = 12
	prevClosePacketSize = 16
	fullPacketSize      = 162
	disconnectSize      = 10
	depthLevels         = 5
	depthLevelSize      = 20
	depthOffset         = 62
)

// request is the JSON control message sent to the provider.
type request struct {
	RequestCode     int                    `json:"RequestCode"`
	InstrumentCount int                    `json:"InstrumentCount,omitempty"`
	InstrumentList  []model.WireInstrument `json:"InstrumentList,omitempty"`
}

func subscribeCode(mode model.Mode) (int, error) {
	switch mode {
	case model.ModeTicker:
		return requestSubscribeTicker, nil
	case model.ModeQuote:
		return requestSubscribeQuote, nil
	case model.ModeFull:
		return requestSubscribeFull, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
}

func unsubscribeCode(mode model.Mode) (int, error) {
	switch mode {
	case model.ModeTicker:
		return requestUnsubscribeTick, nil
	case model.ModeQuote:
		return requestUnsubscribeQuote, nil
	case model.ModeFull:
		return requestUnsubscribeFull, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
}

// encodeRequests builds the frames for one batched call, split into chunks of
// at most MaxInstrumentsPerRequest instruments.
func encodeRequests(code int, keys []model.InstrumentKey) ([][]byte, error) {
	frames := make([][]byte, 0, (len(keys)+MaxInstrumentsPerRequest-1)/MaxInstrumentsPerRequest)
	for start := 0; start < len(keys); start += MaxInstrumentsPerRequest {
		end := min(start+MaxInstrumentsPerRequest, len(keys))

		list := make([]model.WireInstrument, 0, end-start)
		for _, k := range keys[start:end] {
			list = append(list, k.Wire())
		}

		data, err := json.Marshal(request{
			RequestCode:     code,
			InstrumentCount: len(list),
			InstrumentList:  list,
		})
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func encodeDisconnect() []byte {
	data, _ := json.Marshal(request{RequestCode: requestDisconnect})
	return data
}

// -----------------------------------------------------------------------------
// Binary decoding
// -----------------------------------------------------------------------------

// DecodeFrame decodes every packet in one binary websocket frame.
// Packets of unknown kind are skipped. A disconnect packet ends decoding and
// is returned as a *DisconnectError along with the ticks decoded before it.
func DecodeFrame(data []byte, receivedAt time.Time) ([]model.Tick, error) {
	var ticks []model.Tick
	for len(data) >= headerSize {
		size := packetSize(data)
		if size > len(data) {
			return ticks, fmt.Errorf("%w: code %d needs %d bytes, have %d", ErrShortPacket, data[0], size, len(data))
		}

		tick, err := decodePacket(data[:size], receivedAt)
		switch {
		case err == nil:
			ticks = append(ticks, tick)
		case errors.Is(err, ErrUnknownPacket):
		default:
			return ticks, err
		}
		data = data[size:]
	}
	return ticks, nil
}

// packetSize uses the header's length field when it is plausible and falls
// back to the fixed size of the packet kind.
func packetSize(data []byte) int {
	fixed := fixedSize(data[0])
	length := int(binary.LittleEndian.Uint16(data[1:3]))
	if length >= headerSize && length >= fixed {
		return length
	}
	if fixed > 0 {
		return fixed
	}
	// Unknown packet with no usable length: consume the rest.
	return len(data)
}

func fixedSize(code byte) int {
	switch code {
	case packetTicker:
		return tickerPacketSize
	case packetQuote:
		return quotePacketSize
	case packetOI:
		return oiPacketSize
	case packetPrevClose:
		return prevClosePacketSize
	case packetFull:
		return fullPacketSize
	case packetDisconnect:
		return disconnectSize
	}
	return 0
}

func decodePacket(p []byte, receivedAt time.Time) (model.Tick, error) {
	code := p[0]
	if code == packetDisconnect {
		return model.Tick{}, &DisconnectError{Code: i16(p, 8)}
	}
	if fixedSize(code) == 0 {
		return model.Tick{}, ErrUnknownPacket
	}

	seg, ok := model.SegmentFromCode(p[3])
	if !ok {
		return model.Tick{}, fmt.Errorf("%w: segment code %d", ErrUnknownPacket, p[3])
	}

	tick := model.Tick{
		Key: model.InstrumentKey{
			Segment:    seg,
			SecurityID: strconv.FormatUint(uint64(binary.LittleEndian.Uint32(p[4:8])), 10),
		},
		ReceivedAt: receivedAt,
	}

	switch code {
	case packetTicker:
		tick.Kind = model.TickKindTicker
		tick.LTP = price(p, 8)
		tick.LTT = epoch(p, 12)

	case packetQuote:
		tick.Kind = model.TickKindQuote
		tick.LTP = price(p, 8)
		tick.LTQ = int32(i16(p, 12))
		tick.LTT = epoch(p, 14)
		tick.ATP = price(p, 18)
		tick.Volume = int64(i32(p, 22))
		tick.TotalSellQty = int64(i32(p, 26))
		tick.TotalBuyQty = int64(i32(p, 30))
		tick.Open = price(p, 34)
		tick.Close = price(p, 38)
		tick.High = price(p, 42)
		tick.Low = price(p, 46)

	case packetOI:
		tick.Kind = model.TickKindOI
		tick.OI = int64(i32(p, 8))

	case packetPrevClose:
		tick.Kind = model.TickKindPrevClose
		tick.PrevClose = price(p, 8)
		tick.OI = int64(i32(p, 12))

	case packetFull:
		tick.Kind = model.TickKindFull
		tick.LTP = price(p, 8)
		tick.LTQ = int32(i16(p, 12))
		tick.LTT = epoch(p, 14)
		tick.ATP = price(p, 18)
		tick.Volume = int64(i32(p, 22))
		tick.TotalSellQty = int64(i32(p, 26))
		tick.TotalBuyQty = int64(i32(p, 30))
		tick.OI = int64(i32(p, 34))
		tick.Open = price(p, 46)
		tick.Close = price(p, 50)
		tick.High = price(p, 54)
		tick.Low = price(p, 58)
		tick.Depth = make([]model.DepthLevel, depthLevels)
		for i := range tick.Depth {
			off := depthOffset + i*depthLevelSize
			tick.Depth[i] = model.DepthLevel{
				BidQty:    i32(p, off),
				AskQty:    i32(p, off+4),
				BidOrders: i16(p, off+8),
				AskOrders: i16(p, off+10),
				BidPrice:  price(p, off+12),
				AskPrice:  price(p, off+16),
			}
		}
	}

	return tick, nil
}

func i16(p []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(p[off : off+2]))
}

func i32(p []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(p[off : off+4]))
}

func price(p []byte, off int) decimal.Decimal {
	return decimal.NewFromFloat32(math.Float32frombits(binary.LittleEndian.Uint32(p[off : off+4])))
}

func epoch(p []byte, off int) time.Time {
	sec := i32(p, off)
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
