package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rickgao/tickhub/internal/metrics"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/router"
)

var (
	nifty    = model.InstrumentKey{Segment: model.SegmentIndex, SecurityID: "13"}
	reliance = model.InstrumentKey{Segment: model.SegmentNSEEquity, SecurityID: "2885"}
	t0       = time.Date(2026, 1, 5, 9, 15, 0, 0, time.UTC)
)

type memStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]any
	writes int
	ttl    time.Duration
	err    error
}

func newMemStore() *memStore {
	return &memStore{hashes: make(map[string]map[string]any)}
}

func (s *memStore) WriteHashes(_ context.Context, hashes map[string]map[string]any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes++
	s.ttl = ttl
	for key, fields := range hashes {
		h, ok := s.hashes[key]
		if !ok {
			h = make(map[string]any)
			s.hashes[key] = h
		}
		for k, v := range fields {
			h[k] = v
		}
	}
	return nil
}

func (s *memStore) get(key string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes[key]
}

func quote(key model.InstrumentKey, ltp int64, at time.Time) model.Tick {
	return model.Tick{
		Key:        key,
		Kind:       model.TickKindQuote,
		LTP:        decimal.NewFromInt(ltp),
		LTQ:        10,
		LTT:        at,
		Volume:     1000 + ltp,
		ReceivedAt: at,
	}
}

func TestLastPrice_CoalescesPerInstrumentAndKind(t *testing.T) {
	store := newMemStore()
	c := NewLastPrice(Config{KeyPrefix: "ltp:", TTL: time.Hour}, store, nil, zaptest.NewLogger(t))

	assert.Equal(t, router.Delivered, c.Accept("watchlist", quote(reliance, 2900, t0)))
	c.Accept("watchlist", model.Tick{Key: reliance, Kind: model.TickKindOI, OI: 77, ReceivedAt: t0.Add(time.Millisecond)})
	c.Accept("watchlist", quote(reliance, 2901, t0.Add(2*time.Millisecond)))
	c.Accept("watchlist", quote(reliance, 2902, t0.Add(3*time.Millisecond)))
	c.Accept("watchlist", quote(nifty, 23500, t0))

	require.NoError(t, c.Flush(context.Background()))

	h := store.get("ltp:NSE_EQ:2885")
	require.NotNil(t, h)
	assert.Equal(t, "2902", h["ltp"])
	assert.Equal(t, int64(77), h["oi"], "pending OI survives a later quote")
	assert.Equal(t, "quote", h["kind"])
	assert.Equal(t, t0.Add(3*time.Millisecond).UnixMilli(), h["received_at"])

	assert.Equal(t, "23500", store.get("ltp:IDX_I:13")["ltp"])
	assert.Equal(t, time.Hour, store.ttl)

	stats := c.Stats()
	assert.Equal(t, int64(5), stats.Accepted)
	assert.Equal(t, int64(2), stats.Coalesced)
	assert.Equal(t, int64(2), stats.Written)

	// Nothing pending, nothing written.
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, store.writes)
}

func TestLastPrice_FlushError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("READONLY You can't write against a read only replica")
	m := metrics.New(nil)
	c := NewLastPrice(Config{KeyPrefix: "ltp:"}, store, m, nil)

	c.Accept("watchlist", quote(reliance, 2900, t0))
	err := c.Flush(context.Background())
	require.Error(t, err)

	assert.Equal(t, int64(1), c.Stats().Errors)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheWrites.WithLabelValues(metrics.ResultError)))

	// The failed batch is not retried.
	store.err = nil
	require.NoError(t, c.Flush(context.Background()))
	assert.Nil(t, store.get("ltp:NSE_EQ:2885"))
}

func TestLastPrice_StartStop(t *testing.T) {
	store := newMemStore()
	c := NewLastPrice(Config{KeyPrefix: "ltp:", FlushInterval: 5 * time.Millisecond}, store, nil, nil)
	require.NoError(t, c.Start(context.Background()))

	c.Accept("watchlist", quote(nifty, 23500, t0))
	require.Eventually(t, func() bool { return store.get("ltp:IDX_I:13") != nil }, time.Second, 5*time.Millisecond)

	c.Accept("watchlist", quote(nifty, 23510, t0.Add(time.Second)))
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, "23510", store.get("ltp:IDX_I:13")["ltp"], "Stop flushes pending")
}

func TestFields(t *testing.T) {
	pc := fields(model.Tick{Kind: model.TickKindPrevClose, PrevClose: decimal.RequireFromString("2890.35"), OI: 5, ReceivedAt: t0})
	assert.Equal(t, map[string]any{
		"kind":        "prev_close",
		"received_at": t0.UnixMilli(),
		"prev_close":  "2890.35",
		"prev_oi":     int64(5),
	}, pc)

	tk := fields(model.Tick{Kind: model.TickKindTicker, LTP: decimal.NewFromInt(1), LTT: t0, ReceivedAt: t0})
	assert.NotContains(t, tk, "volume")
	assert.Equal(t, t0.Unix(), tk["ltt"])
}

func TestRedisStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStore(client)
	defer store.Close()

	err := store.WriteHashes(context.Background(), map[string]map[string]any{
		"ltp:IDX_I:13": {"ltp": "23500"},
	}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis pipeline (1 keys)")

	assert.Error(t, store.Ping(context.Background()))
	assert.NoError(t, store.WriteHashes(context.Background(), nil, 0))
}
