package main

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/connection"
	"github.com/rickgao/tickhub/internal/hub"
	"github.com/rickgao/tickhub/internal/model"
)

// hubStatus is the read side of the hub the health server reports on.
type hubStatus interface {
	Health() connection.MonitorSnapshot
	Stats() hub.Stats
	ConsumerSubscriptions() map[model.ConsumerID][]model.InstrumentKey
	Drops(consumerID model.ConsumerID) int64
}

// pinger is a dependency that can be pinged (database pool, redis).
type pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

type consumerView struct {
	ID          model.ConsumerID `json:"id"`
	Instruments []string         `json:"instruments"`
	Drops       int64            `json:"drops"`
}

// newHealthHandler serves /health and /debug/subscriptions. A disabled feed
// is reported as such and does not degrade the status.
func newHealthHandler(hs hubStatus, feedEnabled bool, deps map[string]pinger, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		snap := hs.Health()
		stats := hs.Stats()
		state := snap.State.String()
		if !feedEnabled {
			state = "disabled"
		}
		feed := map[string]any{
			"state":       state,
			"since":       snap.Since,
			"subscribed":  stats.Subscribed,
			"consumers":   stats.Consumers,
			"reconnects":  stats.Reconnects,
			"ticks":       stats.TicksReceived,
			"wire_errors": stats.WireErrors,
		}
		if !snap.LastTick.IsZero() {
			feed["last_tick"] = snap.LastTick
		}
		if snap.LastError != nil {
			feed["last_error"] = snap.LastError.Error()
		}
		health.Components["feed"] = feed

		// An idle hub with nothing to subscribe is not degraded.
		if feedEnabled && stats.Subscribed > 0 && snap.State != connection.StateConnected {
			health.Status = "degraded"
		}

		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components[name] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
				continue
			}
			health.Components[name] = "connected"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response", zap.Error(err))
		}
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		subs := hs.ConsumerSubscriptions()

		consumers := make([]consumerView, 0, len(subs))
		for id, keys := range subs {
			names := make([]string, len(keys))
			for i, k := range keys {
				names[i] = k.String()
			}
			consumers = append(consumers, consumerView{
				ID:          id,
				Instruments: names,
				Drops:       hs.Drops(id),
			})
		}
		slices.SortFunc(consumers, func(a, b consumerView) int {
			return cmp.Compare(a.ID, b.ID)
		})

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"count":     len(consumers),
			"consumers": consumers,
		}); err != nil {
			logger.Debug("write subscriptions response", zap.Error(err))
		}
	})

	return mux
}
