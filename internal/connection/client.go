package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/model"
)

// dialer implements Dialer over gorilla/websocket.
type dialer struct {
	cfg    ClientConfig
	logger *zap.Logger
}

// NewDialer creates a Dialer for the provider feed.
func NewDialer(cfg ClientConfig, logger *zap.Logger) Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultClientConfig().WriteTimeout
	}

	return &dialer{cfg: cfg, logger: logger}
}

// Dial opens the socket and, if prime is non-empty, subscribes it before
// returning. The provider only streams after a subscribe request.
func (d *dialer) Dial(ctx context.Context, mode model.Mode, prime []model.InstrumentKey) (Conn, error) {
	subCode, err := subscribeCode(mode)
	if err != nil {
		return nil, err
	}
	unsubCode, err := unsubscribeCode(mode)
	if err != nil {
		return nil, err
	}

	target := d.cfg.URL
	if d.cfg.Credentials != nil {
		target, err = d.cfg.Credentials.FeedURL(d.cfg.URL)
		if err != nil {
			return nil, err
		}
	}

	header := http.Header{}
	header.Set("Accept", "application/octet-stream")

	wsDialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	ws, _, err := wsDialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	c := &client{
		cfg:       d.cfg,
		logger:    d.logger.With(zap.Stringer("mode", mode)),
		conn:      ws,
		subCode:   subCode,
		unsubCode: unsubCode,
		ticks:     make(chan model.Tick, d.cfg.BufferSize),
		errors:    make(chan error, 1),
		done:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()
	if d.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop()
	}

	c.logger.Debug("feed connected", zap.String("url", d.cfg.URL))

	if len(prime) > 0 {
		if err := c.Subscribe(ctx, prime); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// client implements Conn.
type client struct {
	cfg    ClientConfig
	logger *zap.Logger

	conn      *websocket.Conn
	subCode   int
	unsubCode int

	// Output channels
	ticks  chan model.Tick
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	// Write serialization
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Subscribe sends one batched subscribe, chunked to the provider's cap.
func (c *client) Subscribe(ctx context.Context, keys []model.InstrumentKey) error {
	return c.send(ctx, "subscribe", c.subCode, keys)
}

// Unsubscribe sends one batched unsubscribe, chunked to the provider's cap.
func (c *client) Unsubscribe(ctx context.Context, keys []model.InstrumentKey) error {
	return c.send(ctx, "unsubscribe", c.unsubCode, keys)
}

func (c *client) send(ctx context.Context, op string, code int, keys []model.InstrumentKey) error {
	if len(keys) == 0 {
		return nil
	}

	frames, err := encodeRequests(code, keys)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &TransportError{Op: op, Err: ErrNotConnected}
	}

	// Frames of one call go out back to back.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return &TransportError{Op: op, Err: err}
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return &TransportError{Op: op, Err: err}
		}
	}

	c.logger.Debug("feed request sent",
		zap.String("op", op),
		zap.Int("instruments", len(keys)),
		zap.Int("frames", len(frames)),
	)
	return nil
}

// Ticks returns the decoded tick stream.
func (c *client) Ticks() <-chan model.Tick {
	return c.ticks
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// Close asks the provider to disconnect, closes the socket and waits for the
// read loop to exit.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.TextMessage, encodeDisconnect())
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// readLoop decodes binary frames into the ticks channel.
func (c *client) readLoop() {
	defer c.wg.Done()
	defer close(c.ticks)

	for {
		msgType, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.fail(&TransportError{Op: "read", Err: err})
			return
		}
		if msgType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary frame", zap.Int("bytes", len(data)))
			continue
		}

		ticks, err := DecodeFrame(data, receivedAt)
		for _, tick := range ticks {
			select {
			case c.ticks <- tick:
			case <-c.done:
				return
			default:
				c.logger.Warn("tick buffer full, dropping tick", zap.Stringer("instrument", tick.Key))
			}
		}
		if err != nil {
			if errors.Is(err, ErrServerDisconnect) {
				c.fail(err)
				return
			}
			c.logger.Warn("failed to decode frame", zap.Error(err), zap.Int("bytes", len(data)))
		}
	}
}

func (c *client) fail(err error) {
	// Ignore errors after Close() is called
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.errors <- err:
	default:
	}
}

// heartbeatLoop keeps intermediaries from idling the socket out. Liveness
// itself is judged from ticks by the Monitor.
func (c *client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", zap.Error(err))
			}
		}
	}
}
