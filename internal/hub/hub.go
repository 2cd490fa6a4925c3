package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/connection"
	"github.com/rickgao/tickhub/internal/metrics"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/registry"
	"github.com/rickgao/tickhub/internal/router"
)

// Hub owns the single upstream connection. It reconciles the subscription
// registry against the wire, drains ticks into the router, and reconnects
// with a full resync when the connection goes stale.
type Hub struct {
	id      string
	cfg     Config
	dialer  connection.Dialer
	logger  *zap.Logger
	metrics *metrics.Metrics

	registry *registry.Registry
	router   *router.Router
	monitor  *connection.Monitor

	// mu guards the connection handle and ingestion lifecycle. Register and
	// unregister hold it across their wire call so calls reach the wire in
	// registry order. Ingestion never takes it.
	mu           sync.Mutex
	conn         connection.Conn
	primed       []model.InstrumentKey // Subscribed at dial, cleared by the resync
	ingestCancel context.CancelFunc
	ingestDone   chan struct{}
	running      bool

	// Supervisor lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Supervisor signals (1-buffered, never block the sender)
	wake   chan struct{}
	resync chan connection.Conn

	// Owned by the supervisor goroutine
	backoff   *backoff.Backoff
	nextDelay time.Duration

	// Stats
	reconnects    atomic.Int64
	ticksReceived atomic.Int64
	wireErrors    atomic.Int64
}

// New creates a Hub. Ticks are delivered to sink; m may be nil.
func New(cfg Config, dialer connection.Dialer, sink router.Sink, m *metrics.Metrics, logger *zap.Logger) *Hub {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	logger = logger.With(zap.String("hub", id), zap.Stringer("mode", cfg.Mode))

	h := &Hub{
		id:       id,
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		metrics:  m,
		registry: registry.New(),
		wake:     make(chan struct{}, 1),
		resync:   make(chan connection.Conn, 1),
		backoff: &backoff.Backoff{
			Min:    cfg.ReconnectBaseDelay,
			Max:    cfg.ReconnectMaxDelay,
			Factor: 2,
			Jitter: false,
		},
	}

	h.router = router.New(h.registry, sink, m, logger.Named("router"))
	h.monitor = connection.NewMonitor(connection.MonitorConfig{
		LivenessWindow: cfg.LivenessWindow,
		ConnectTimeout: cfg.ConnectTimeout,
		Now:            cfg.Now,
		OnChange:       h.onStateChange,
	})

	return h
}

// ID returns the hub instance id.
func (h *Hub) ID() string {
	return h.id
}

// Mode returns the hub's feed mode.
func (h *Hub) Mode() model.Mode {
	return h.cfg.Mode
}

// RegisterConsumer records consumerID's interest in keys. When connected, the
// instruments nobody held before go out in one batched subscribe; otherwise
// they are picked up by the resync on the next Connected transition.
// Wire failures are absorbed; only a mode mismatch or an empty key list is
// returned.
func (h *Hub) RegisterConsumer(ctx context.Context, consumerID model.ConsumerID, keys []model.InstrumentKey, mode model.Mode) error {
	if mode != h.cfg.Mode {
		return &registry.ModeMismatchError{Active: h.cfg.Mode, Requested: mode}
	}
	if len(keys) == 0 {
		return ErrNoInstruments
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	wasEmpty := h.registry.Len() == 0
	added, err := h.registry.Add(consumerID, keys, mode)
	if err != nil {
		return err
	}
	h.updateGauges()

	h.logger.Debug("consumer registered",
		zap.String("consumer", string(consumerID)),
		zap.Int("instruments", len(keys)),
		zap.Int("new", len(added)),
	)

	if len(added) == 0 {
		return nil
	}
	if h.liveLocked() {
		h.wireCallLocked(ctx, opSubscribe, added)
	}
	if wasEmpty {
		h.signal(h.wake)
	}
	return nil
}

// UnregisterConsumer drops every registration of consumerID. Instruments left
// with no consumer go out in one batched unsubscribe when connected. Unknown
// consumers are a no-op.
func (h *Hub) UnregisterConsumer(ctx context.Context, consumerID model.ConsumerID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := h.registry.Remove(consumerID)
	h.router.Forget(consumerID)
	h.updateGauges()

	if len(removed) == 0 {
		return
	}

	h.logger.Debug("consumer unregistered",
		zap.String("consumer", string(consumerID)),
		zap.Int("released", len(removed)),
	)

	if h.liveLocked() {
		h.wireCallLocked(ctx, opUnsubscribe, removed)
	}
}

// Start moves the monitor to Connecting and launches the supervisor, which
// dials as soon as there is something to subscribe.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrAlreadyRunning
	}
	if err := h.monitor.Start(); err != nil {
		return err
	}

	var runCtx context.Context
	runCtx, h.cancel = context.WithCancel(ctx)
	h.running = true
	h.backoff.Reset()
	h.nextDelay = 0

	h.wg.Add(1)
	go h.supervise(runCtx)

	h.logger.Info("feed hub started",
		zap.Duration("liveness_window", h.cfg.LivenessWindow),
		zap.Int("instruments", h.registry.Len()),
	)
	return nil
}

// Stop stops ingestion, closes the connection and moves the monitor to
// Disconnected. Registrations are kept so a later Start resumes them.
// No tick is dispatched after Stop returns.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	cancel := h.cancel
	h.mu.Unlock()

	h.logger.Info("stopping feed hub")
	cancel()

	// Wait for the supervisor with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("supervisor stop timed out")
	}

	h.mu.Lock()
	h.teardownLocked()
	h.monitor.Stop()
	h.mu.Unlock()

	h.logger.Info("feed hub stopped")
	return nil
}

// State returns the connection state.
func (h *Hub) State() connection.State {
	return h.monitor.State()
}

// Health returns the monitor snapshot.
func (h *Hub) Health() connection.MonitorSnapshot {
	return h.monitor.Snapshot()
}

// Subscriptions returns the desired subscription set, sorted.
func (h *Hub) Subscriptions() []model.InstrumentKey {
	return h.registry.Snapshot()
}

// ConsumerSubscriptions returns every consumer with its instruments.
func (h *Hub) ConsumerSubscriptions() map[model.ConsumerID][]model.InstrumentKey {
	ids := h.registry.ConsumerIDs()
	out := make(map[model.ConsumerID][]model.InstrumentKey, len(ids))
	for _, id := range ids {
		out[id] = h.registry.ConsumerKeys(id)
	}
	return out
}

// Drops returns the drop counter of a consumer.
func (h *Hub) Drops(consumerID model.ConsumerID) int64 {
	return h.router.Drops(consumerID)
}

// Stats returns current statistics.
func (h *Hub) Stats() Stats {
	return Stats{
		State:         h.monitor.State(),
		Subscribed:    h.registry.Len(),
		Consumers:     h.registry.ConsumerCount(),
		Reconnects:    h.reconnects.Load(),
		TicksReceived: h.ticksReceived.Load(),
		WireErrors:    h.wireErrors.Load(),
		Router:        h.router.Stats(),
	}
}

// wireCallLocked issues one batched call on the current handle. Failures are
// logged and counted; the next resync repairs the wire. Must hold mu.
func (h *Hub) wireCallLocked(ctx context.Context, op string, keys []model.InstrumentKey) {
	// Unsubscribes must still go out when the caller is already gone.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.SubscribeTimeout)
	defer cancel()

	var err error
	switch op {
	case opUnsubscribe:
		err = h.conn.Unsubscribe(callCtx, keys)
	default:
		err = h.conn.Subscribe(callCtx, keys)
	}

	h.metrics.WireCall(op, err)
	if err != nil {
		h.wireErrors.Add(1)
		h.logger.Warn("wire call failed",
			zap.String("op", op),
			zap.Int("instruments", len(keys)),
			zap.Error(err),
		)
		return
	}

	h.logger.Debug("wire call sent", zap.String("op", op), zap.Int("instruments", len(keys)))
}

// liveLocked reports whether register and unregister should reach the wire
// directly. Until the first resync on a handle has run, the resync covers
// them. Must hold mu.
func (h *Hub) liveLocked() bool {
	return h.conn != nil && h.primed == nil && h.monitor.State() == connection.StateConnected
}

func (h *Hub) updateGauges() {
	h.metrics.SetSubscribed(h.registry.Len())
	h.metrics.SetConsumers(h.registry.ConsumerCount())
}

func (h *Hub) onStateChange(from, to connection.State) {
	h.metrics.SetConnectionState(int(to))
	h.logger.Info("connection state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

func (h *Hub) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
