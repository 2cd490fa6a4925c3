package connection

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type transition struct{ from, to State }

func newTestMonitor(clock *fakeClock) (*Monitor, *[]transition) {
	var mu sync.Mutex
	changes := &[]transition{}
	m := NewMonitor(MonitorConfig{
		LivenessWindow: 30 * time.Second,
		Now:            clock.Now,
		OnChange: func(from, to State) {
			mu.Lock()
			*changes = append(*changes, transition{from, to})
			mu.Unlock()
		},
	})
	return m, changes
}

func TestMonitor_InitialState(t *testing.T) {
	m, _ := newTestMonitor(newFakeClock())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, "disconnected", m.State().String())
}

func TestMonitor_ConnectedOnlyAfterTick(t *testing.T) {
	clock := newFakeClock()
	m, changes := newTestMonitor(clock)

	require.NoError(t, m.Start())
	m.Established(clock.Now())
	assert.Equal(t, StateConnecting, m.State())

	// Polling without ticks never promotes.
	assert.Equal(t, StateConnecting, m.Check(clock.Advance(5*time.Second)))

	assert.True(t, m.ObserveTick(clock.Advance(time.Second)))
	assert.Equal(t, StateConnected, m.State())

	// Subsequent ticks are not transitions.
	assert.False(t, m.ObserveTick(clock.Advance(time.Second)))

	assert.Equal(t, []transition{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
	}, *changes)
}

func TestMonitor_StaleOnlyAfterWindow(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestMonitor(clock)

	require.NoError(t, m.Start())
	m.ObserveTick(clock.Now())

	assert.Equal(t, StateConnected, m.Check(clock.Advance(30*time.Second)), "exactly the window is still live")
	assert.Equal(t, StateStale, m.Check(clock.Advance(time.Second)))

	snap := m.Snapshot()
	assert.Equal(t, StateStale, snap.State)
	assert.ErrorIs(t, snap.LastError, ErrStaleConnection)
}

func TestMonitor_TicksKeepConnected(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestMonitor(clock)

	require.NoError(t, m.Start())
	for i := 0; i < 10; i++ {
		m.ObserveTick(clock.Advance(20 * time.Second))
		assert.Equal(t, StateConnected, m.Check(clock.Now()))
	}
}

func TestMonitor_StaleRequiresPoll(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestMonitor(clock)

	require.NoError(t, m.Start())
	m.ObserveTick(clock.Now())
	clock.Advance(time.Hour)

	// Silence alone does not transition.
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, StateStale, m.Check(clock.Now()))
}

func TestMonitor_ConnectTimeout(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestMonitor(clock)

	require.NoError(t, m.Start())

	// Not established yet: no timeout runs.
	assert.Equal(t, StateConnecting, m.Check(clock.Advance(time.Minute)))

	m.Established(clock.Now())
	assert.Equal(t, StateConnecting, m.Check(clock.Advance(30*time.Second)))
	assert.Equal(t, StateStale, m.Check(clock.Advance(time.Second)))
}

func TestMonitor_ReconnectCycle(t *testing.T) {
	clock := newFakeClock()
	m, changes := newTestMonitor(clock)

	require.NoError(t, m.Start())
	m.ObserveTick(clock.Now())
	m.Check(clock.Advance(31 * time.Second))

	require.NoError(t, m.Reconnecting())
	assert.Equal(t, StateConnecting, m.State())
	assert.True(t, m.ObserveTick(clock.Advance(time.Second)))

	assert.Equal(t, []transition{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateStale},
		{StateStale, StateConnecting},
		{StateConnecting, StateConnected},
	}, *changes)
}

func TestMonitor_InvalidTransitions(t *testing.T) {
	m, _ := newTestMonitor(newFakeClock())

	assert.ErrorIs(t, m.Reconnecting(), ErrNotStale)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrNotDisconnected)
	assert.ErrorIs(t, m.Reconnecting(), ErrNotStale)
}

func TestMonitor_MarkStale(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestMonitor(clock)

	assert.False(t, m.MarkStale(errors.New("boom")), "disconnected cannot go stale")

	require.NoError(t, m.Start())
	cause := &TransportError{Op: "read", Err: errors.New("reset by peer")}
	assert.True(t, m.MarkStale(cause))
	assert.Equal(t, StateStale, m.State())
	assert.Equal(t, cause, m.Snapshot().LastError)

	assert.False(t, m.MarkStale(cause), "already stale")
}

func TestMonitor_StopFromAnyState(t *testing.T) {
	clock := newFakeClock()

	setups := map[string]func(m *Monitor){
		"disconnected": func(m *Monitor) {},
		"connecting":   func(m *Monitor) { _ = m.Start() },
		"connected": func(m *Monitor) {
			_ = m.Start()
			m.ObserveTick(clock.Now())
		},
		"stale": func(m *Monitor) {
			_ = m.Start()
			m.MarkStale(nil)
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			m, _ := newTestMonitor(clock)
			setup(m)
			m.Stop()
			assert.Equal(t, StateDisconnected, m.State())

			// Ticks after stop are ignored; start is allowed again.
			assert.False(t, m.ObserveTick(clock.Now()))
			assert.Equal(t, StateDisconnected, m.State())
			assert.NoError(t, m.Start())
		})
	}
}

func TestMonitor_Defaults(t *testing.T) {
	m := NewMonitor(MonitorConfig{})
	assert.Equal(t, 30*time.Second, m.cfg.LivenessWindow)
	assert.Equal(t, 30*time.Second, m.cfg.ConnectTimeout)
	assert.NotNil(t, m.cfg.Now)
}
