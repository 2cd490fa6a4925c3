package registry

import (
	"sort"
	"sync"

	"github.com/rickgao/tickhub/internal/instrument"
	"github.com/rickgao/tickhub/internal/model"
)

// entry is the ref-counted desired subscription for one instrument.
type entry struct {
	refs      int
	consumers map[model.ConsumerID]struct{}
}

// Registry is the desired-subscription store: which instruments should be
// subscribed, and which consumers want each one.
type Registry struct {
	mu sync.RWMutex

	// Active mode, valid while entries is non-empty.
	mode model.Mode

	// Instrument -> ref count and interested consumers.
	entries map[model.InstrumentKey]*entry

	// Consumer -> instruments it holds.
	consumers map[model.ConsumerID]map[model.InstrumentKey]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries:   make(map[model.InstrumentKey]*entry),
		consumers: make(map[model.ConsumerID]map[model.InstrumentKey]struct{}),
	}
}

// Add records consumerID's interest in keys. A key the consumer already holds
// is not counted twice. Returns the keys whose ref count went from 0 to 1,
// i.e. the ones that need a subscribe on the wire.
func (r *Registry) Add(consumerID model.ConsumerID, keys []model.InstrumentKey, mode model.Mode) ([]model.InstrumentKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) > 0 && mode != r.mode {
		return nil, &ModeMismatchError{Active: r.mode, Requested: mode}
	}
	if len(r.entries) == 0 {
		r.mode = mode
	}

	held, ok := r.consumers[consumerID]
	if !ok {
		held = make(map[model.InstrumentKey]struct{}, len(keys))
		r.consumers[consumerID] = held
	}

	var added []model.InstrumentKey
	for _, key := range keys {
		if _, dup := held[key]; dup {
			continue
		}
		held[key] = struct{}{}

		e, exists := r.entries[key]
		if !exists {
			e = &entry{consumers: make(map[model.ConsumerID]struct{})}
			r.entries[key] = e
			added = append(added, key)
		}
		e.refs++
		e.consumers[consumerID] = struct{}{}
	}

	if len(held) == 0 {
		delete(r.consumers, consumerID)
	}

	return added, nil
}

// Remove drops every registration held by consumerID and returns the keys
// whose ref count reached zero. Unknown consumers are a no-op.
func (r *Registry) Remove(consumerID model.ConsumerID) []model.InstrumentKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.consumers[consumerID]
	if !ok {
		return nil
	}
	delete(r.consumers, consumerID)

	var removed []model.InstrumentKey
	for key := range held {
		e, exists := r.entries[key]
		if !exists {
			continue
		}
		e.refs--
		delete(e.consumers, consumerID)
		if e.refs <= 0 {
			delete(r.entries, key)
			removed = append(removed, key)
		}
	}

	instrument.Sort(removed)
	return removed
}

// Snapshot returns the full desired set, sorted.
func (r *Registry) Snapshot() []model.InstrumentKey {
	r.mu.RLock()
	keys := make([]model.InstrumentKey, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	instrument.Sort(keys)
	return keys
}

// Consumers returns the consumers interested in key.
func (r *Registry) Consumers(key model.InstrumentKey) []model.ConsumerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	ids := make([]model.ConsumerID, 0, len(e.consumers))
	for id := range e.consumers {
		ids = append(ids, id)
	}
	return ids
}

// ConsumerKeys returns the instruments held by consumerID, sorted.
func (r *Registry) ConsumerKeys(consumerID model.ConsumerID) []model.InstrumentKey {
	r.mu.RLock()
	held := r.consumers[consumerID]
	keys := make([]model.InstrumentKey, 0, len(held))
	for key := range held {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	instrument.Sort(keys)
	return keys
}

// RefCount returns the current ref count of key (0 if absent).
func (r *Registry) RefCount(key model.InstrumentKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Mode returns the active mode, if any entry exists.
func (r *Registry) Mode() (model.Mode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return 0, false
	}
	return r.mode, true
}

// Len returns the number of distinct desired instruments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ConsumerCount returns the number of consumers with at least one key.
func (r *Registry) ConsumerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

// ConsumerIDs returns all registered consumer ids, sorted.
func (r *Registry) ConsumerIDs() []model.ConsumerID {
	r.mu.RLock()
	ids := make([]model.ConsumerID, 0, len(r.consumers))
	for id := range r.consumers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
