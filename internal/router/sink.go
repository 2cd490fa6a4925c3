package router

import (
	"sync"

	"github.com/rickgao/tickhub/internal/model"
)

// ChanSink delivers into a bounded channel with a non-blocking send.
type ChanSink struct {
	ch chan model.Tick
}

// NewChanSink creates a ChanSink with the given capacity.
func NewChanSink(size int) *ChanSink {
	if size < 1 {
		size = 1
	}
	return &ChanSink{ch: make(chan model.Tick, size)}
}

func (s *ChanSink) Accept(_ model.ConsumerID, tick model.Tick) AcceptResult {
	select {
	case s.ch <- tick:
		return Delivered
	default:
		return Dropped
	}
}

// C returns the receive side.
func (s *ChanSink) C() <-chan model.Tick {
	return s.ch
}

// QueueSink delivers into a bounded Queue.
type QueueSink struct {
	Queue *Queue[model.Tick]
}

func (s QueueSink) Accept(_ model.ConsumerID, tick model.Tick) AcceptResult {
	if s.Queue.TrySend(tick) {
		return Delivered
	}
	return Dropped
}

// Mux routes each consumer to its own sink. Consumers with no sink go to the
// fallback, or are dropped when there is none.
type Mux struct {
	mu       sync.RWMutex
	sinks    map[model.ConsumerID]Sink
	fallback Sink
}

// NewMux creates an empty Mux. fallback may be nil.
func NewMux(fallback Sink) *Mux {
	return &Mux{
		sinks:    make(map[model.ConsumerID]Sink),
		fallback: fallback,
	}
}

// Set attaches a sink to a consumer, replacing any previous one.
func (m *Mux) Set(consumerID model.ConsumerID, sink Sink) {
	m.mu.Lock()
	m.sinks[consumerID] = sink
	m.mu.Unlock()
}

// Delete detaches a consumer's sink.
func (m *Mux) Delete(consumerID model.ConsumerID) {
	m.mu.Lock()
	delete(m.sinks, consumerID)
	m.mu.Unlock()
}

// SetFallback replaces the sink used for consumers without their own.
func (m *Mux) SetFallback(sink Sink) {
	m.mu.Lock()
	m.fallback = sink
	m.mu.Unlock()
}

// Len returns the number of attached sinks.
func (m *Mux) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

func (m *Mux) Accept(consumerID model.ConsumerID, tick model.Tick) AcceptResult {
	m.mu.RLock()
	sink, ok := m.sinks[consumerID]
	if !ok {
		sink = m.fallback
	}
	m.mu.RUnlock()

	if sink == nil {
		return Dropped
	}
	return sink.Accept(consumerID, tick)
}

// Tee offers each tick to every sink. The tick counts as dropped if any sink
// dropped it.
type Tee []Sink

func (t Tee) Accept(consumerID model.ConsumerID, tick model.Tick) AcceptResult {
	result := Delivered
	for _, sink := range t {
		if sink.Accept(consumerID, tick) == Dropped {
			result = Dropped
		}
	}
	return result
}
