package push

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickhub/internal/instrument"
	"github.com/rickgao/tickhub/internal/model"
)

// Registrar is the part of the hub the push server drives.
type Registrar interface {
	RegisterConsumer(ctx context.Context, consumerID model.ConsumerID, keys []model.InstrumentKey, mode model.Mode) error
	UnregisterConsumer(ctx context.Context, consumerID model.ConsumerID)
	Mode() model.Mode
}

// Config configures the push server.
type Config struct {
	SessionBuffer  int           // Per-session outbound tick queue
	WriteTimeout   time.Duration // Write deadline per frame
	AllowedOrigins []string      // Empty = any origin
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionBuffer: 1024,
		WriteTimeout:  5 * time.Second,
	}
}

// Client actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Server message types
const (
	TypeWelcome      = "welcome"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeTick         = "tick"
	TypeError        = "error"
)

// ClientMessage is a request from a browser session.
type ClientMessage struct {
	Action      string           `json:"action"`
	Instruments []instrument.Raw `json:"instruments,omitempty"`
}

// ServerMessage is a control reply.
type ServerMessage struct {
	Type        string   `json:"type"`
	ConsumerID  string   `json:"consumer_id,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// TickMessage is a tick as pushed to sessions. Prices are decimal strings.
type TickMessage struct {
	Type       string           `json:"type"`
	Instrument string           `json:"instrument"`
	Kind       string           `json:"kind"`
	LTP        *decimal.Decimal `json:"ltp,omitempty"`
	LTQ        int32            `json:"ltq,omitempty"`
	LTT        int64            `json:"ltt,omitempty"` // Unix seconds
	ATP        *decimal.Decimal `json:"atp,omitempty"`
	Volume     int64            `json:"volume,omitempty"`
	Open       *decimal.Decimal `json:"open,omitempty"`
	High       *decimal.Decimal `json:"high,omitempty"`
	Low        *decimal.Decimal `json:"low,omitempty"`
	Close      *decimal.Decimal `json:"close,omitempty"`
	OI         int64            `json:"oi,omitempty"`
	PrevClose  *decimal.Decimal `json:"prev_close,omitempty"`
	Depth      []DepthMessage   `json:"depth,omitempty"`
	ReceivedAt int64            `json:"received_at"` // Unix millis
}

// DepthMessage is one depth level.
type DepthMessage struct {
	BidQty    int32           `json:"bid_qty"`
	BidOrders int16           `json:"bid_orders"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskQty    int32           `json:"ask_qty"`
	AskOrders int16           `json:"ask_orders"`
	AskPrice  decimal.Decimal `json:"ask_price"`
}

// NewTickMessage converts a tick. Only fields the packet kind carries are set.
func NewTickMessage(tick model.Tick) TickMessage {
	msg := TickMessage{
		Type:       TypeTick,
		Instrument: tick.Key.String(),
		Kind:       string(tick.Kind),
		ReceivedAt: tick.ReceivedAt.UnixMilli(),
	}
	if !tick.LTT.IsZero() {
		msg.LTT = tick.LTT.Unix()
	}

	switch tick.Kind {
	case model.TickKindTicker:
		msg.LTP = ptr(tick.LTP)
	case model.TickKindQuote, model.TickKindFull:
		msg.LTP = ptr(tick.LTP)
		msg.LTQ = tick.LTQ
		msg.ATP = ptr(tick.ATP)
		msg.Volume = tick.Volume
		msg.Open = ptr(tick.Open)
		msg.High = ptr(tick.High)
		msg.Low = ptr(tick.Low)
		msg.Close = ptr(tick.Close)
		msg.OI = tick.OI
		for _, d := range tick.Depth {
			msg.Depth = append(msg.Depth, DepthMessage{
				BidQty:    d.BidQty,
				BidOrders: d.BidOrders,
				BidPrice:  d.BidPrice,
				AskQty:    d.AskQty,
				AskOrders: d.AskOrders,
				AskPrice:  d.AskPrice,
			})
		}
	case model.TickKindOI:
		msg.OI = tick.OI
	case model.TickKindPrevClose:
		msg.PrevClose = ptr(tick.PrevClose)
		msg.OI = tick.OI
	}
	return msg
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
