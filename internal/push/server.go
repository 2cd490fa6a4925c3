package push

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/metrics"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/router"
)

// Server accepts browser websocket sessions. Each session is one hub
// consumer with a uuid id. The server is the router.Sink for its sessions.
type Server struct {
	cfg     Config
	hub     Registrar
	logger  *zap.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[model.ConsumerID]*session
	closed   bool
}

// NewServer creates a push server. m may be nil.
func NewServer(cfg Config, hub Registrar, m *metrics.Metrics, logger *zap.Logger) *Server {
	d := DefaultConfig()
	if cfg.SessionBuffer < 1 {
		cfg.SessionBuffer = d.SessionBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		logger:   logger,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[model.ConsumerID]*session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// ServeHTTP upgrades the request and runs the session until the socket
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	sess := newSession(model.ConsumerID(uuid.NewString()), conn, s)
	if !s.add(sess) {
		conn.Close()
		return
	}
	defer s.wg.Done()

	s.logger.Info("push session opened",
		zap.String("consumer", string(sess.id)),
		zap.String("remote", r.RemoteAddr),
	)

	sess.run(s.ctx)

	s.remove(sess)
	s.hub.UnregisterConsumer(context.Background(), sess.id)

	s.logger.Info("push session closed", zap.String("consumer", string(sess.id)))
}

// Accept queues a tick on the consumer's session. Unknown consumers and full
// queues drop.
func (s *Server) Accept(consumerID model.ConsumerID, tick model.Tick) router.AcceptResult {
	s.mu.RLock()
	sess, ok := s.sessions[consumerID]
	s.mu.RUnlock()

	if !ok || !sess.queue.TrySend(tick) {
		return router.Dropped
	}
	return router.Delivered
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close closes every session and waits for their cleanup or ctx.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.cancel()
	for _, sess := range sessions {
		sess.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) add(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.metrics.SetPushSessions(len(s.sessions))
	return true
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetPushSessions(n)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}
