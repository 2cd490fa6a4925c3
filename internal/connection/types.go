package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/tickhub/internal/auth"
	"github.com/rickgao/tickhub/internal/model"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ticks)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrNotDisconnected  = errors.New("monitor not disconnected")
	ErrNotStale         = errors.New("monitor not stale")
	ErrUnknownPacket    = errors.New("unknown packet")
	ErrShortPacket      = errors.New("packet too short")
	ErrUnsupportedMode  = errors.New("unsupported feed mode")
	ErrServerDisconnect = errors.New("server disconnect")
)

// TransportError is a failed call on the wire. It is logged and counted by the
// hub, never returned to consumers.
type TransportError struct {
	Op  string // "dial", "subscribe", "unsubscribe", "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DisconnectError is sent by the provider right before it drops the socket.
type DisconnectError struct {
	Code int16
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("server disconnect (code %d)", e.Code)
}

func (e *DisconnectError) Is(target error) bool {
	return target == ErrServerDisconnect
}

// -----------------------------------------------------------------------------
// Upstream handle
// -----------------------------------------------------------------------------

// Dialer opens upstream connections. A connection is created for one mode and
// primed with the instruments that are already desired at dial time.
type Dialer interface {
	Dial(ctx context.Context, mode model.Mode, prime []model.InstrumentKey) (Conn, error)
}

// Conn is a live upstream connection.
type Conn interface {
	// Subscribe adds instruments in one batched call.
	Subscribe(ctx context.Context, keys []model.InstrumentKey) error

	// Unsubscribe removes instruments in one batched call.
	Unsubscribe(ctx context.Context, keys []model.InstrumentKey) error

	// Ticks returns the decoded tick stream. Closed when the read loop exits.
	Ticks() <-chan model.Tick

	// Errors returns read-side failures (at most one per connection).
	Errors() <-chan error

	// Close gracefully closes the connection.
	Close() error
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// ClientConfig configures the websocket Dialer.
type ClientConfig struct {
	URL              string            // Feed URL (e.g., wss://api-feed.dhan.co)
	Credentials      *auth.Credentials // nil = connect without auth query (tests)
	HandshakeTimeout time.Duration     // Websocket handshake timeout
	WriteTimeout     time.Duration     // Write deadline for requests
	PingInterval     time.Duration     // Keepalive ping interval (0 = disabled)
	BufferSize       int               // Tick channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:              "wss://api-feed.dhan.co",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     10 * time.Second,
		BufferSize:       10000,
	}
}

// MonitorConfig configures the liveness state machine.
type MonitorConfig struct {
	LivenessWindow time.Duration // Connected -> Stale after this long without ticks
	ConnectTimeout time.Duration // Connecting -> Stale after this long without a first tick (0 = LivenessWindow)

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// OnChange is called after every transition, outside the monitor lock.
	OnChange func(from, to State)
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		LivenessWindow: 30 * time.Second,
	}
}
