package connection

import (
	"fmt"
	"sync"
	"time"
)

// State is the liveness of the upstream connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStale
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MonitorSnapshot is a point-in-time view of the monitor.
type MonitorSnapshot struct {
	State     State
	Since     time.Time // When State was entered
	LastTick  time.Time // Zero until the first tick
	LastError error     // Cause of the last forced Stale, if any
}

// Monitor tracks liveness of the single upstream connection from tick
// arrivals. The transport gives no reliable open/close signal, so:
//   - Connecting -> Connected happens on the first tick only
//   - Connected -> Stale happens only when Check observes a silent window
type Monitor struct {
	cfg MonitorConfig

	mu            sync.Mutex
	state         State
	since         time.Time
	lastTick      time.Time
	establishedAt time.Time
	lastErr       error
}

// NewMonitor creates a monitor in the Disconnected state.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = DefaultMonitorConfig().LivenessWindow
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = cfg.LivenessWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Monitor{
		cfg:   cfg,
		state: StateDisconnected,
		since: cfg.Now(),
	}
}

// Start moves Disconnected -> Connecting.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotDisconnected, state)
	}
	from := m.transition(StateConnecting, m.cfg.Now())
	m.establishedAt = time.Time{}
	m.lastErr = nil
	m.mu.Unlock()

	m.notify(from, StateConnecting)
	return nil
}

// Established records that a connection handle is open. The connect timeout
// runs from here.
func (m *Monitor) Established(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnecting {
		m.establishedAt = now
	}
}

// ObserveTick records upstream activity. Returns true when this tick moved
// the monitor Connecting -> Connected.
func (m *Monitor) ObserveTick(now time.Time) bool {
	m.mu.Lock()

	switch m.state {
	case StateDisconnected:
		m.mu.Unlock()
		return false
	case StateConnecting:
		m.lastTick = now
		from := m.transition(StateConnected, now)
		m.mu.Unlock()
		m.notify(from, StateConnected)
		return true
	default:
		// Connected, or a late tick from a handle already declared Stale.
		m.lastTick = now
		m.mu.Unlock()
		return false
	}
}

// Check is the periodic liveness poll and the only place Connected -> Stale
// happens on silence. Returns the state after the check.
func (m *Monitor) Check(now time.Time) State {
	m.mu.Lock()

	var stale bool
	switch m.state {
	case StateConnected:
		stale = now.Sub(m.lastTick) > m.cfg.LivenessWindow
	case StateConnecting:
		stale = !m.establishedAt.IsZero() && now.Sub(m.establishedAt) > m.cfg.ConnectTimeout
	}

	if !stale {
		state := m.state
		m.mu.Unlock()
		return state
	}

	m.lastErr = ErrStaleConnection
	from := m.transition(StateStale, now)
	m.mu.Unlock()

	m.notify(from, StateStale)
	return StateStale
}

// MarkStale forces Stale after a transport failure seen by ingestion.
// Returns false if the monitor was not Connecting or Connected.
func (m *Monitor) MarkStale(err error) bool {
	m.mu.Lock()

	if m.state != StateConnecting && m.state != StateConnected {
		m.mu.Unlock()
		return false
	}
	if err == nil {
		err = ErrStaleConnection
	}
	m.lastErr = err
	from := m.transition(StateStale, m.cfg.Now())
	m.mu.Unlock()

	m.notify(from, StateStale)
	return true
}

// Reconnecting moves Stale -> Connecting. The old handle must already be gone.
func (m *Monitor) Reconnecting() error {
	m.mu.Lock()
	if m.state != StateStale {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotStale, state)
	}
	from := m.transition(StateConnecting, m.cfg.Now())
	m.establishedAt = time.Time{}
	m.mu.Unlock()

	m.notify(from, StateConnecting)
	return nil
}

// Stop moves any state -> Disconnected.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	from := m.transition(StateDisconnected, m.cfg.Now())
	m.establishedAt = time.Time{}
	m.mu.Unlock()

	m.notify(from, StateDisconnected)
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state with its timestamps.
func (m *Monitor) Snapshot() MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MonitorSnapshot{
		State:     m.state,
		Since:     m.since,
		LastTick:  m.lastTick,
		LastError: m.lastErr,
	}
}

// transition must be called with mu held.
func (m *Monitor) transition(to State, now time.Time) State {
	from := m.state
	m.state = to
	m.since = now
	return from
}

func (m *Monitor) notify(from, to State) {
	if m.cfg.OnChange != nil && from != to {
		m.cfg.OnChange(from, to)
	}
}
