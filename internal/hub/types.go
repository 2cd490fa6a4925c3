package hub

import (
	"errors"
	"time"

	"github.com/rickgao/tickhub/internal/connection"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/router"
)

// Errors
var (
	ErrAlreadyRunning = errors.New("hub already running")
	ErrNoInstruments  = errors.New("no instruments")
)

// Wire operations, as logged and counted.
const (
	opDial        = "dial"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opResync      = "resync"
)

// Config configures the Hub.
type Config struct {
	Mode model.Mode // Feed mode, fixed for the hub's lifetime

	LivenessWindow time.Duration // Connected -> Stale after this long without ticks
	ConnectTimeout time.Duration // Connecting -> Stale without a first tick (0 = LivenessWindow)
	CheckInterval  time.Duration // Liveness poll interval

	DialTimeout      time.Duration // Bound on one dial + prime
	SubscribeTimeout time.Duration // Bound on one batched subscribe/unsubscribe

	ReconnectBaseDelay time.Duration // Backoff floor
	ReconnectMaxDelay  time.Duration // Backoff ceiling

	// Now is the clock used for liveness. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               model.ModeQuote,
		LivenessWindow:     30 * time.Second,
		CheckInterval:      time.Second,
		DialTimeout:        10 * time.Second,
		SubscribeTimeout:   10 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Mode == 0 {
		c.Mode = d.Mode
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = d.LivenessWindow
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		c.ReconnectMaxDelay = max(d.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stats provides statistics about the hub.
type Stats struct {
	State         connection.State
	Subscribed    int   // Distinct desired instruments
	Consumers     int   // Registered consumers
	Reconnects    int64 // Stale -> Connecting cycles
	TicksReceived int64
	WireErrors    int64 // Failed dial/subscribe/unsubscribe calls
	Router        router.RouterStats
}
