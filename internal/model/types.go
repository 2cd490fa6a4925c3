package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConsumerID identifies an internal consumer of ticks (a UI session, a sink, ...).
type ConsumerID string

// -----------------------------------------------------------------------------
// Instruments
// -----------------------------------------------------------------------------

// Segment is the provider's exchange segment enum.
type Segment string

const (
	SegmentIndex       Segment = "IDX_I"
	SegmentNSEEquity   Segment = "NSE_EQ"
	SegmentNSEFNO      Segment = "NSE_FNO"
	SegmentNSECurrency Segment = "NSE_CURRENCY"
	SegmentBSEEquity   Segment = "BSE_EQ"
	SegmentMCX         Segment = "MCX_COMM"
	SegmentBSECurrency Segment = "BSE_CURRENCY"
	SegmentBSEFNO      Segment = "BSE_FNO"
)

// segmentCodes maps segments to the byte carried in binary packet headers.
var segmentCodes = map[Segment]byte{
	SegmentIndex:       0,
	SegmentNSEEquity:   1,
	SegmentNSEFNO:      2,
	SegmentNSECurrency: 3,
	SegmentBSEEquity:   4,
	SegmentMCX:         5,
	SegmentBSECurrency: 7,
	SegmentBSEFNO:      8,
}

var segmentsByCode = func() map[byte]Segment {
	m := make(map[byte]Segment, len(segmentCodes))
	for s, c := range segmentCodes {
		m[c] = s
	}
	return m
}()

// Code returns the numeric wire code of the segment.
func (s Segment) Code() (byte, bool) {
	c, ok := segmentCodes[s]
	return c, ok
}

// Valid reports whether s is a known segment.
func (s Segment) Valid() bool {
	_, ok := segmentCodes[s]
	return ok
}

// SegmentFromCode resolves a wire code back to its segment.
func SegmentFromCode(code byte) (Segment, bool) {
	s, ok := segmentsByCode[code]
	return s, ok
}

// InstrumentKey is the canonical provider identity of an instrument.
// It is comparable and used directly as a map key.
type InstrumentKey struct {
	Segment    Segment
	SecurityID string
}

// String renders the key as SEGMENT:ID.
func (k InstrumentKey) String() string {
	return string(k.Segment) + ":" + k.SecurityID
}

// WireInstrument is the only instrument shape the provider accepts.
type WireInstrument struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// Wire converts the key into its request representation.
func (k InstrumentKey) Wire() WireInstrument {
	return WireInstrument{ExchangeSegment: string(k.Segment), SecurityID: k.SecurityID}
}

// -----------------------------------------------------------------------------
// Feed Mode
// -----------------------------------------------------------------------------

// Mode is the data granularity requested for a connection.
type Mode int

const (
	ModeTicker Mode = iota + 1
	ModeQuote
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeTicker:
		return "ticker"
	case ModeQuote:
		return "quote"
	case ModeFull:
		return "full"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses "ticker", "quote" or "full" in any casing.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ticker":
		return ModeTicker, nil
	case "quote":
		return ModeQuote, nil
	case "full":
		return ModeFull, nil
	}
	return 0, fmt.Errorf("unknown feed mode %q", s)
}

// -----------------------------------------------------------------------------
// Ticks
// -----------------------------------------------------------------------------

// TickKind identifies which packet a tick was decoded from.
type TickKind string

const (
	TickKindTicker    TickKind = "ticker"
	TickKindQuote     TickKind = "quote"
	TickKindOI        TickKind = "oi"
	TickKindPrevClose TickKind = "prev_close"
	TickKindFull      TickKind = "full"
)

// DepthLevel is one level of the five-level market depth.
type DepthLevel struct {
	BidQty    int32
	AskQty    int32
	BidOrders int16
	AskOrders int16
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
}

// Tick is one price update for an instrument. Fields the packet kind does not
// carry are left zero.
type Tick struct {
	Key  InstrumentKey
	Kind TickKind

	LTP decimal.Decimal // Last traded price
	LTQ int32           // Last traded quantity
	LTT time.Time       // Last trade time (exchange)
	ATP decimal.Decimal // Average traded price

	Volume       int64
	TotalBuyQty  int64
	TotalSellQty int64

	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	OI        int64
	PrevClose decimal.Decimal

	Depth []DepthLevel

	ReceivedAt time.Time // Local receive time
}
