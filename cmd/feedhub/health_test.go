package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rickgao/tickhub/internal/connection"
	"github.com/rickgao/tickhub/internal/hub"
	"github.com/rickgao/tickhub/internal/model"
)

type fakeStatus struct {
	snap  connection.MonitorSnapshot
	stats hub.Stats
	subs  map[model.ConsumerID][]model.InstrumentKey
	drops map[model.ConsumerID]int64
}

func (f *fakeStatus) Health() connection.MonitorSnapshot { return f.snap }
func (f *fakeStatus) Stats() hub.Stats                   { return f.stats }
func (f *fakeStatus) ConsumerSubscriptions() map[model.ConsumerID][]model.InstrumentKey {
	return f.subs
}
func (f *fakeStatus) Drops(id model.ConsumerID) int64 { return f.drops[id] }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_Connected(t *testing.T) {
	hs := &fakeStatus{
		snap:  connection.MonitorSnapshot{State: connection.StateConnected, Since: time.Now(), LastTick: time.Now()},
		stats: hub.Stats{State: connection.StateConnected, Subscribed: 2, Consumers: 1, TicksReceived: 7},
	}
	deps := map[string]pinger{"redis": pingFunc(func(context.Context) error { return nil })}

	code, body := getJSON(t, newHealthHandler(hs, true, deps, zaptest.NewLogger(t)), "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "connected", components["redis"])
	feed := components["feed"].(map[string]any)
	assert.Equal(t, "connected", feed["state"])
	assert.EqualValues(t, 7, feed["ticks"])
	assert.Contains(t, feed, "last_tick")
}

func TestHealth_IdleIsHealthy(t *testing.T) {
	hs := &fakeStatus{snap: connection.MonitorSnapshot{State: connection.StateDisconnected}}

	code, body := getJSON(t, newHealthHandler(hs, true, nil, zaptest.NewLogger(t)), "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealth_StaleIsDegraded(t *testing.T) {
	hs := &fakeStatus{
		snap:  connection.MonitorSnapshot{State: connection.StateStale, LastError: errors.New("read: connection reset")},
		stats: hub.Stats{Subscribed: 1},
	}

	code, body := getJSON(t, newHealthHandler(hs, true, nil, zaptest.NewLogger(t)), "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	feed := body["components"].(map[string]any)["feed"].(map[string]any)
	assert.Equal(t, "read: connection reset", feed["last_error"])
}

func TestHealth_DependencyDown(t *testing.T) {
	hs := &fakeStatus{snap: connection.MonitorSnapshot{State: connection.StateConnected}, stats: hub.Stats{Subscribed: 1}}
	deps := map[string]pinger{
		"database": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}

	code, body := getJSON(t, newHealthHandler(hs, true, deps, zaptest.NewLogger(t)), "/health")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
	db := body["components"].(map[string]any)["database"].(map[string]any)
	assert.Equal(t, "disconnected", db["status"])
	assert.Equal(t, "connection refused", db["error"])
}

func TestDebugSubscriptions(t *testing.T) {
	hs := &fakeStatus{
		subs: map[model.ConsumerID][]model.InstrumentKey{
			"watchlist": {{Segment: model.SegmentNSEEquity, SecurityID: "2885"}},
			"b-session": {{Segment: model.SegmentIndex, SecurityID: "13"}, {Segment: model.SegmentIndex, SecurityID: "25"}},
		},
		drops: map[model.ConsumerID]int64{"b-session": 4},
	}

	code, body := getJSON(t, newHealthHandler(hs, true, nil, zaptest.NewLogger(t)), "/debug/subscriptions")

	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])
	consumers := body["consumers"].([]any)
	require.Len(t, consumers, 2)

	first := consumers[0].(map[string]any)
	assert.Equal(t, "b-session", first["id"])
	assert.Equal(t, []any{"IDX_I:13", "IDX_I:25"}, first["instruments"])
	assert.EqualValues(t, 4, first["drops"])

	second := consumers[1].(map[string]any)
	assert.Equal(t, "watchlist", second["id"])
	assert.Equal(t, []any{"NSE_EQ:2885"}, second["instruments"])
}

func TestHealth_FeedDisabled(t *testing.T) {
	hs := &fakeStatus{
		snap:  connection.MonitorSnapshot{State: connection.StateDisconnected},
		stats: hub.Stats{Subscribed: 3, Consumers: 1},
	}

	code, body := getJSON(t, newHealthHandler(hs, false, nil, zaptest.NewLogger(t)), "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"], "a disabled feed is not degraded")
	feed := body["components"].(map[string]any)["feed"].(map[string]any)
	assert.Equal(t, "disabled", feed["state"])
}
