package router

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/metrics"
	"github.com/rickgao/tickhub/internal/model"
)

// Router fans each inbound tick out to the consumers registered for its
// instrument. It is called from the single ingestion goroutine and never
// blocks on a sink.
type Router struct {
	index   Index
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger

	// Per-consumer drop counters
	dropsMu sync.RWMutex
	drops   map[model.ConsumerID]*atomic.Int64

	dispatched atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	unrouted   atomic.Int64
}

// New creates a Router resolving consumers through index and delivering to sink.
func New(index Index, sink Sink, m *metrics.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Router{
		index:   index,
		sink:    sink,
		metrics: m,
		logger:  logger,
		drops:   make(map[model.ConsumerID]*atomic.Int64),
	}
}

// Dispatch delivers tick to every interested consumer. Ticks nobody wants are
// discarded.
func (r *Router) Dispatch(tick model.Tick) {
	r.dispatched.Add(1)

	consumers := r.index.Consumers(tick.Key)
	if len(consumers) == 0 {
		r.unrouted.Add(1)
		r.metrics.TickUnrouted()
		return
	}

	for _, id := range consumers {
		if r.sink.Accept(id, tick) == Delivered {
			r.delivered.Add(1)
			r.metrics.TickDispatched()
			continue
		}

		r.dropped.Add(1)
		r.metrics.TickDropped()

		c := r.counter(id, tick.Key)
		if c == nil {
			continue
		}
		n := c.Add(1)

		// First drop, then every 1000th.
		if n == 1 || n%1000 == 0 {
			r.logger.Warn("consumer sink full, dropping ticks",
				zap.String("consumer", string(id)),
				zap.Int64("drops", n),
			)
		}
	}
}

// Drops returns the drop counter of a consumer.
func (r *Router) Drops(consumerID model.ConsumerID) int64 {
	r.dropsMu.RLock()
	c, ok := r.drops[consumerID]
	r.dropsMu.RUnlock()

	if !ok {
		return 0
	}
	return c.Load()
}

// Forget discards the drop counter of an unregistered consumer.
func (r *Router) Forget(consumerID model.ConsumerID) {
	r.dropsMu.Lock()
	delete(r.drops, consumerID)
	r.dropsMu.Unlock()
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		TicksDispatched: r.dispatched.Load(),
		Delivered:       r.delivered.Load(),
		Dropped:         r.dropped.Load(),
		Unrouted:        r.unrouted.Load(),
	}
}

// counter returns the drop counter of id, creating it while id still holds
// key. It returns nil for a consumer that went away after the index lookup,
// so a drop racing Forget does not bring the counter back.
func (r *Router) counter(id model.ConsumerID, key model.InstrumentKey) *atomic.Int64 {
	r.dropsMu.RLock()
	c, ok := r.drops[id]
	r.dropsMu.RUnlock()
	if ok {
		return c
	}

	r.dropsMu.Lock()
	defer r.dropsMu.Unlock()
	if c, ok = r.drops[id]; ok {
		return c
	}
	// Removal from the index precedes Forget, so checking under dropsMu
	// orders this insert before any Forget of id.
	if !slices.Contains(r.index.Consumers(key), id) {
		return nil
	}
	c = &atomic.Int64{}
	r.drops[id] = c
	return c
}
