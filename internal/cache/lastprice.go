package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/metrics"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/router"
)

// pendingKey coalesces per instrument and packet kind, so a quote does not
// discard a pending OI update.
type pendingKey struct {
	key  model.InstrumentKey
	kind model.TickKind
}

// Config configures the last-price cache.
type Config struct {
	KeyPrefix     string        // e.g. "tickhub:ltp:"
	FlushInterval time.Duration // How often pending updates are written
	TTL           time.Duration // Key expiry, 0 = none
}

// Stats holds cache counters.
type Stats struct {
	Accepted  int64 // Ticks accepted
	Coalesced int64 // Ticks overwritten before a flush
	Written   int64 // Keys written
	Errors    int64 // Failed flushes
}

// LastPrice keeps the latest tick per instrument and flushes the pending set
// to a Store on an interval. It is a router.Sink that never drops: a newer
// tick for the same instrument replaces the pending one.
type LastPrice struct {
	cfg     Config
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[pendingKey]model.Tick

	cancel context.CancelFunc
	wg     sync.WaitGroup

	accepted  atomic.Int64
	coalesced atomic.Int64
	written   atomic.Int64
	errors    atomic.Int64
}

// NewLastPrice creates a LastPrice cache. m may be nil.
func NewLastPrice(cfg Config, store Store, m *metrics.Metrics, logger *zap.Logger) *LastPrice {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LastPrice{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: m,
		pending: make(map[pendingKey]model.Tick),
	}
}

// Accept records tick as the latest for its instrument.
func (c *LastPrice) Accept(_ model.ConsumerID, tick model.Tick) router.AcceptResult {
	pk := pendingKey{key: tick.Key, kind: tick.Kind}

	c.mu.Lock()
	if _, ok := c.pending[pk]; ok {
		c.coalesced.Add(1)
	}
	c.pending[pk] = tick
	c.mu.Unlock()

	c.accepted.Add(1)
	return router.Delivered
}

// Start launches the flush loop.
func (c *LastPrice) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.flushLoop(ctx)

	c.logger.Info("last-price cache started",
		zap.String("prefix", c.cfg.KeyPrefix),
		zap.Duration("flush_interval", c.cfg.FlushInterval),
	)
	return nil
}

// Stop stops the flush loop and writes what is pending within ctx.
func (c *LastPrice) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	return c.Flush(ctx)
}

// Stats returns current counters.
func (c *LastPrice) Stats() Stats {
	return Stats{
		Accepted:  c.accepted.Load(),
		Coalesced: c.coalesced.Load(),
		Written:   c.written.Load(),
		Errors:    c.errors.Load(),
	}
}

func (c *LastPrice) flushLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

// Flush writes all pending ticks. On failure the batch is discarded; the
// next tick per instrument carries a fresher value anyway.
func (c *LastPrice) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.pending
	c.pending = make(map[pendingKey]model.Tick, len(batch))
	c.mu.Unlock()

	hashes := make(map[string]map[string]any, len(batch))
	for pk, tick := range batch {
		redisKey := c.cfg.KeyPrefix + pk.key.String()
		h, ok := hashes[redisKey]
		if !ok {
			h = make(map[string]any)
			hashes[redisKey] = h
		}
		for k, v := range fields(tick) {
			// Keep the newest kind/received_at when several kinds merge.
			if (k == "kind" || k == "received_at") && ok && !newer(tick, h) {
				continue
			}
			h[k] = v
		}
	}

	err := c.store.WriteHashes(ctx, hashes, c.cfg.TTL)
	c.metrics.CacheFlush(err)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("last-price flush failed", zap.Error(err), zap.Int("keys", len(hashes)))
		return err
	}

	c.written.Add(int64(len(hashes)))
	return nil
}

func newer(tick model.Tick, h map[string]any) bool {
	prev, _ := h["received_at"].(int64)
	return tick.ReceivedAt.UnixMilli() >= prev
}

// fields maps a tick to hash fields. Only what the packet kind carries is
// set, so partial packets never clobber fields written by richer ones.
func fields(tick model.Tick) map[string]any {
	f := map[string]any{
		"kind":        string(tick.Kind),
		"received_at": tick.ReceivedAt.UnixMilli(),
	}

	switch tick.Kind {
	case model.TickKindTicker:
		f["ltp"] = tick.LTP.String()
		f["ltt"] = tick.LTT.Unix()
	case model.TickKindQuote, model.TickKindFull:
		f["ltp"] = tick.LTP.String()
		f["ltq"] = tick.LTQ
		f["ltt"] = tick.LTT.Unix()
		f["atp"] = tick.ATP.String()
		f["volume"] = tick.Volume
		f["open"] = tick.Open.String()
		f["high"] = tick.High.String()
		f["low"] = tick.Low.String()
		f["close"] = tick.Close.String()
		if tick.Kind == model.TickKindFull {
			f["oi"] = tick.OI
		}
	case model.TickKindOI:
		f["oi"] = tick.OI
	case model.TickKindPrevClose:
		f["prev_close"] = tick.PrevClose.String()
		f["prev_oi"] = tick.OI
	}
	return f
}
