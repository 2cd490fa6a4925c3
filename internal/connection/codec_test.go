package connection

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tickhub/internal/model"
)

// packet builds a binary packet with the standard 8-byte header.
type packet []byte

func newPacket(code byte, size int, segment byte, securityID uint32) packet {
	p := make(packet, size)
	p[0] = code
	binary.LittleEndian.PutUint16(p[1:3], uint16(size))
	p[3] = segment
	binary.LittleEndian.PutUint32(p[4:8], securityID)
	return p
}

func (p packet) f32(off int, v float32) packet {
	binary.LittleEndian.PutUint32(p[off:], math.Float32bits(v))
	return p
}

func (p packet) i32(off int, v int32) packet {
	binary.LittleEndian.PutUint32(p[off:], uint32(v))
	return p
}

func (p packet) i16(off int, v int16) packet {
	binary.LittleEndian.PutUint16(p[off:], uint16(v))
	return p
}

var receivedAt = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

func TestDecodeFrame_Ticker(t *testing.T) {
	p := newPacket(packetTicker, tickerPacketSize, 0, 13).
		f32(8, 22150.5).
		i32(12, 1709284500)

	ticks, err := DecodeFrame(p, receivedAt)
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, model.InstrumentKey{Segment: model.SegmentIndex, SecurityID: "13"}, tick.Key)
	assert.Equal(t, model.TickKindTicker, tick.Kind)
	assert.Equal(t, "22150.5", tick.LTP.String())
	assert.Equal(t, time.Unix(1709284500, 0).UTC(), tick.LTT)
	assert.Equal(t, receivedAt, tick.ReceivedAt)
}

func TestDecodeFrame_Quote(t *testing.T) {
	p := newPacket(packetQuote, quotePacketSize, 1, 2885).
		f32(8, 2950.25).
		i16(12, 15).
		i32(14, 1709284500).
		f32(18, 2948.75).
		i32(22, 1200000).
		i32(26, 5000).
		i32(30, 7000).
		f32(34, 2930).
		f32(38, 2925.5).
		f32(42, 2960).
		f32(46, 2920)

	ticks, err := DecodeFrame(p, receivedAt)
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, model.SegmentNSEEquity, tick.Key.Segment)
	assert.Equal(t, "2885", tick.Key.SecurityID)
	assert.Equal(t, model.TickKindQuote, tick.Kind)
	assert.Equal(t, "2950.25", tick.LTP.String())
	assert.Equal(t, int32(15), tick.LTQ)
	assert.Equal(t, "2948.75", tick.ATP.String())
	assert.Equal(t, int64(1200000), tick.Volume)
	assert.Equal(t, int64(5000), tick.TotalSellQty)
	assert.Equal(t, int64(7000), tick.TotalBuyQty)
	assert.Equal(t, "2930", tick.Open.String())
	assert.Equal(t, "2925.5", tick.Close.String())
	assert.Equal(t, "2960", tick.High.String())
	assert.Equal(t, "2920", tick.Low.String())
	assert.Empty(t, tick.Depth)
}

func TestDecodeFrame_Full(t *testing.T) {
	p := newPacket(packetFull, fullPacketSize, 2, 35001).
		f32(8, 101.5).
		i16(12, 50).
		i32(14, 1709284500).
		i32(22, 900).
		i32(34, 123456).
		f32(46, 100).
		f32(50, 99).
		f32(54, 103).
		f32(58, 98)
	for i := 0; i < depthLevels; i++ {
		off := depthOffset + i*depthLevelSize
		p.i32(off, int32(100*(i+1))).
			i32(off+4, int32(200*(i+1))).
			i16(off+8, int16(i+1)).
			i16(off+10, int16(i+2)).
			f32(off+12, float32(101-i)).
			f32(off+16, float32(102+i))
	}

	ticks, err := DecodeFrame(p, receivedAt)
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, model.SegmentNSEFNO, tick.Key.Segment)
	assert.Equal(t, model.TickKindFull, tick.Kind)
	assert.Equal(t, int64(123456), tick.OI)
	assert.Equal(t, "100", tick.Open.String())
	assert.Equal(t, "98", tick.Low.String())
	require.Len(t, tick.Depth, depthLevels)

	for i, level := range tick.Depth {
		assert.Equal(t, int32(100*(i+1)), level.BidQty, "level %d", i)
		assert.Equal(t, int32(200*(i+1)), level.AskQty, "level %d", i)
		assert.Equal(t, int16(i+1), level.BidOrders, "level %d", i)
		assert.Equal(t, int16(i+2), level.AskOrders, "level %d", i)
		assert.Equal(t, fmt.Sprint(101-i), level.BidPrice.String(), "level %d", i)
		assert.Equal(t, fmt.Sprint(102+i), level.AskPrice.String(), "level %d", i)
	}
}

func TestDecodeFrame_OIAndPrevClose(t *testing.T) {
	oi := newPacket(packetOI, oiPacketSize, 2, 35001).i32(8, 987654)
	prev := newPacket(packetPrevClose, prevClosePacketSize, 2, 35001).f32(8, 95.5).i32(12, 900000)

	frame := append(append([]byte{}, oi...), prev...)
	ticks, err := DecodeFrame(frame, receivedAt)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.Equal(t, model.TickKindOI, ticks[0].Kind)
	assert.Equal(t, int64(987654), ticks[0].OI)

	assert.Equal(t, model.TickKindPrevClose, ticks[1].Kind)
	assert.Equal(t, "95.5", ticks[1].PrevClose.String())
	assert.Equal(t, int64(900000), ticks[1].OI)
}

func TestDecodeFrame_Disconnect(t *testing.T) {
	tick := newPacket(packetTicker, tickerPacketSize, 0, 13).f32(8, 1)
	disc := newPacket(packetDisconnect, disconnectSize, 0, 0).i16(8, 805)

	frame := append(append([]byte{}, tick...), disc...)
	ticks, err := DecodeFrame(frame, receivedAt)

	assert.Len(t, ticks, 1, "ticks before the disconnect are kept")
	require.ErrorIs(t, err, ErrServerDisconnect)

	var discErr *DisconnectError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, int16(805), discErr.Code)
}

func TestDecodeFrame_SkipsUnknown(t *testing.T) {
	unknown := newPacket(99, 12, 0, 0)
	badSegment := newPacket(packetTicker, tickerPacketSize, 6, 13)
	good := newPacket(packetTicker, tickerPacketSize, 4, 500325).f32(8, 10)

	frame := append(append(append([]byte{}, unknown...), badSegment...), good...)
	ticks, err := DecodeFrame(frame, receivedAt)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, model.SegmentBSEEquity, ticks[0].Key.Segment)
}

func TestDecodeFrame_Short(t *testing.T) {
	p := newPacket(packetQuote, quotePacketSize, 1, 1)

	_, err := DecodeFrame(p[:30], receivedAt)
	assert.ErrorIs(t, err, ErrShortPacket)

	ticks, err := DecodeFrame(p[:4], receivedAt)
	assert.NoError(t, err, "a trailing partial header is ignored")
	assert.Empty(t, ticks)
}

func TestDecodeFrame_ZeroLengthFieldUsesFixedSize(t *testing.T) {
	p := newPacket(packetTicker, tickerPacketSize, 0, 13).f32(8, 5)
	binary.LittleEndian.PutUint16(p[1:3], 0)

	ticks, err := DecodeFrame(p, receivedAt)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.True(t, ticks[0].LTT.IsZero())
}

func TestEncodeRequests_Format(t *testing.T) {
	keys := []model.InstrumentKey{{Segment: model.SegmentIndex, SecurityID: "13"}}

	frames, err := encodeRequests(requestSubscribeQuote, keys)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	assert.JSONEq(t,
		`{"RequestCode":17,"InstrumentCount":1,"InstrumentList":[{"ExchangeSegment":"IDX_I","SecurityId":"13"}]}`,
		string(frames[0]))
}

func TestEncodeRequests_Chunks(t *testing.T) {
	keys := make([]model.InstrumentKey, 250)
	for i := range keys {
		keys[i] = model.InstrumentKey{Segment: model.SegmentNSEEquity, SecurityID: fmt.Sprint(i)}
	}

	frames, err := encodeRequests(requestSubscribeTicker, keys)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	var total int
	for i, frame := range frames {
		var req request
		require.NoError(t, json.Unmarshal(frame, &req))
		assert.Equal(t, requestSubscribeTicker, req.RequestCode)
		assert.Equal(t, len(req.InstrumentList), req.InstrumentCount)
		assert.LessOrEqual(t, req.InstrumentCount, MaxInstrumentsPerRequest, "frame %d", i)
		total += req.InstrumentCount
	}
	assert.Equal(t, 250, total)
}

func TestRequestCodes(t *testing.T) {
	tests := []struct {
		mode       model.Mode
		sub, unsub int
	}{
		{model.ModeTicker, 15, 16},
		{model.ModeQuote, 17, 18},
		{model.ModeFull, 21, 22},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			sub, err := subscribeCode(tt.mode)
			require.NoError(t, err)
			unsub, err := unsubscribeCode(tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.sub, sub)
			assert.Equal(t, tt.unsub, unsub)
		})
	}

	_, err := subscribeCode(model.Mode(9))
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	assert.JSONEq(t, `{"RequestCode":12}`, string(encodeDisconnect()))
}
