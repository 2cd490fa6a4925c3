package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/connection"
	"github.com/rickgao/tickhub/internal/model"
)

// supervise is the control loop: it dials when there is something to
// subscribe, polls liveness, tears down stale connections and performs the
// resync after every Connected transition.
func (h *Hub) supervise(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if h.needsDial() && !h.connect(ctx) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			h.check()
		case conn := <-h.resync:
			h.resyncConn(ctx, conn)
		case <-ticker.C:
			h.check()
		}
	}
}

// needsDial reports whether the hub is Connecting without a handle while
// instruments are desired. An empty registry is never dialed.
func (h *Hub) needsDial() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.conn == nil &&
		h.monitor.State() == connection.StateConnecting &&
		h.registry.Len() > 0
}

// connect dials until it succeeds or ctx is done, backing off between
// attempts. The new handle is primed with the snapshot at dial time. Returns
// false only when ctx is done.
func (h *Hub) connect(ctx context.Context) bool {
	delay := h.nextDelay
	h.nextDelay = 0

	for {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}

		prime := h.registry.Snapshot()
		if len(prime) == 0 {
			// Everyone left while we were waiting.
			return true
		}

		dialCtx, cancel := context.WithTimeout(ctx, h.cfg.DialTimeout)
		conn, err := h.dialer.Dial(dialCtx, h.cfg.Mode, prime)
		cancel()
		h.metrics.WireCall(opDial, err)

		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			h.wireErrors.Add(1)
			delay = h.backoff.Duration()
			h.logger.Warn("dial failed",
				zap.Error(err),
				zap.Duration("retry_in", delay),
			)
			continue
		}

		h.mu.Lock()
		if ctx.Err() != nil {
			h.mu.Unlock()
			conn.Close()
			return false
		}
		h.installLocked(ctx, conn, prime)
		h.mu.Unlock()

		h.logger.Info("feed dialed, waiting for first tick", zap.Int("primed", len(prime)))
		return true
	}
}

// installLocked makes conn the live handle and starts ingestion on it.
// primed is what the dial already subscribed. Must hold mu.
func (h *Hub) installLocked(ctx context.Context, conn connection.Conn, primed []model.InstrumentKey) {
	ingestCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.conn = conn
	h.primed = primed
	h.ingestCancel = cancel
	h.ingestDone = done
	h.monitor.Established(h.cfg.Now())

	go h.ingest(ingestCtx, conn, done)
}

// teardownLocked stops ingestion, waits for it, then closes the handle, so
// ingestion never reads from a half-closed connection. Must hold mu.
func (h *Hub) teardownLocked() {
	if h.ingestCancel != nil {
		h.ingestCancel()
		<-h.ingestDone
		h.ingestCancel = nil
		h.ingestDone = nil
	}
	// Drop a resync signal for the old handle so the next one can be sent.
	select {
	case <-h.resync:
	default:
	}
	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			h.logger.Debug("close connection", zap.Error(err))
		}
		h.conn = nil
	}
	h.primed = nil
}

// check runs one liveness poll. On Stale the handle is discarded and the
// monitor moves back to Connecting; the next loop iteration redials after the
// backoff delay.
func (h *Hub) check() {
	if h.monitor.Check(h.cfg.Now()) != connection.StateStale {
		return
	}

	h.mu.Lock()
	h.teardownLocked()
	err := h.monitor.Reconnecting()
	h.mu.Unlock()
	if err != nil {
		return
	}

	h.reconnects.Add(1)
	h.metrics.Reconnect()
	h.nextDelay = h.backoff.Duration()

	h.logger.Warn("connection stale, reconnecting",
		zap.NamedError("cause", h.monitor.Snapshot().LastError),
		zap.Duration("retry_in", h.nextDelay),
		zap.Int64("reconnects", h.reconnects.Load()),
	)
}

// resyncConn reconciles conn with the registry after its first tick: keys
// primed at dial that nobody holds any more are unsubscribed, then the full
// snapshot is subscribed. A signal for a handle that has since been replaced
// is ignored.
func (h *Hub) resyncConn(ctx context.Context, conn connection.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != conn || h.monitor.State() != connection.StateConnected {
		return
	}

	h.backoff.Reset()

	snapshot := h.registry.Snapshot()
	released := unheld(h.primed, snapshot)
	h.primed = nil

	if len(released) > 0 {
		h.wireCallLocked(ctx, opUnsubscribe, released)
	}
	if len(snapshot) > 0 {
		h.wireCallLocked(ctx, opResync, snapshot)
	}

	h.logger.Info("connected, resynced subscriptions",
		zap.Int("instruments", len(snapshot)),
		zap.Int("released", len(released)),
	)
}

// unheld returns the keys of primed missing from snapshot.
func unheld(primed, snapshot []model.InstrumentKey) []model.InstrumentKey {
	if len(primed) == 0 {
		return nil
	}
	want := make(map[model.InstrumentKey]struct{}, len(snapshot))
	for _, k := range snapshot {
		want[k] = struct{}{}
	}
	var out []model.InstrumentKey
	for _, k := range primed {
		if _, ok := want[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// ingest drains one handle. It is the only caller of ObserveTick and of the
// router. It ends on cancel or on a transport failure, which marks the
// monitor Stale.
func (h *Hub) ingest(ctx context.Context, conn connection.Conn, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return

		case err := <-conn.Errors():
			h.transportFailed(err)
			return

		case tick, ok := <-conn.Ticks():
			if !ok {
				select {
				case err := <-conn.Errors():
					h.transportFailed(err)
				default:
					h.transportFailed(connection.ErrStaleConnection)
				}
				return
			}

			h.ticksReceived.Add(1)
			h.metrics.TickReceived()

			if h.monitor.ObserveTick(h.cfg.Now()) {
				select {
				case h.resync <- conn:
				default:
				}
			}

			h.router.Dispatch(tick)
		}
	}
}

func (h *Hub) transportFailed(err error) {
	if h.monitor.MarkStale(err) {
		h.logger.Warn("transport failure", zap.Error(err))
		h.signal(h.wake)
	}
}
