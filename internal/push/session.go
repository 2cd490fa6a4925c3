package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/instrument"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/router"
)

const maxMessageSize = 64 * 1024

// session is one browser socket.
type session struct {
	id     model.ConsumerID
	conn   *websocket.Conn
	server *Server
	logger *zap.Logger

	// Outbound ticks. Accept never blocks on it.
	queue *router.Queue[model.Tick]

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
}

func newSession(id model.ConsumerID, conn *websocket.Conn, s *Server) *session {
	return &session{
		id:     id,
		conn:   conn,
		server: s,
		logger: s.logger.With(zap.String("consumer", string(id))),
		queue:  router.NewQueue[model.Tick](s.cfg.SessionBuffer),
	}
}

// run serves the session until the socket or ctx closes.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()

	s.send(ServerMessage{
		Type:       TypeWelcome,
		ConsumerID: string(s.id),
		Mode:       s.server.hub.Mode().String(),
	})

	s.readLoop(ctx)

	cancel()
	s.queue.Close()
	wg.Wait()
}

func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				s.logger.Debug("session read ended", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("invalid message: " + err.Error())
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *session) handle(ctx context.Context, msg ClientMessage) {
	hub := s.server.hub

	switch msg.Action {
	case ActionSubscribe:
		keys, err := instrument.NormalizeAll(msg.Instruments)
		if err != nil {
			s.sendError(err.Error())
			return
		}
		if err := hub.RegisterConsumer(ctx, s.id, keys, hub.Mode()); err != nil {
			s.sendError(err.Error())
			return
		}
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		s.send(ServerMessage{Type: TypeSubscribed, Instruments: names})

	case ActionUnsubscribe:
		hub.UnregisterConsumer(ctx, s.id)
		s.send(ServerMessage{Type: TypeUnsubscribed})

	default:
		s.sendError("unknown action: " + msg.Action)
	}
}

// writeLoop pushes queued ticks until the queue closes or ctx ends.
func (s *session) writeLoop(ctx context.Context) {
	for {
		tick, ok := s.queue.ReceiveContext(ctx)
		if !ok {
			return
		}
		if err := s.write(NewTickMessage(tick)); err != nil {
			s.logger.Debug("tick write failed", zap.Error(err))
			s.close()
			return
		}
	}
}

func (s *session) sendError(text string) {
	s.send(ServerMessage{Type: TypeError, Error: text})
}

func (s *session) send(msg ServerMessage) {
	if err := s.write(msg); err != nil {
		s.logger.Debug("control write failed", zap.Error(err))
	}
}

func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout)); err != nil {
		return err
	}
	err := s.conn.WriteJSON(v)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// close closes the socket, which ends readLoop.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}
