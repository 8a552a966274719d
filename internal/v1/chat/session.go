package chat

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillchat/backend/internal/v1/hub"
	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/metrics"
)

const (
	maxMessageSize = 4 * 1024
	writeWait      = 10 * time.Second
)

// session owns one socket: a reader, a writer, and a heartbeat
// goroutine, joined through one cancellable context. Whichever pump
// fails first cancels the other two.
type session struct {
	conn       *websocket.Conn
	client     *hub.Client
	hub        *hub.Hub
	dispatcher *dispatcher
	heartbeat  time.Duration
}

func newSession(conn *websocket.Conn, client *hub.Client, h *hub.Hub, handlers *Handlers, heartbeat time.Duration) *session {
	return &session{
		conn:       conn,
		client:     client,
		hub:        h,
		dispatcher: newDispatcher(handlers, client),
		heartbeat:  heartbeat,
	}
}

// run blocks until the session ends, then detaches the client from the
// hub and releases the socket.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.IncConnection()
	logging.Info(ctx, "Session started",
		zap.Int64("userId", s.client.UserID()),
		zap.String("clientId", s.client.ID()))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.readPump(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		s.writePump(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		s.heartbeatPump(ctx)
	}()
	wg.Wait()

	s.hub.Disconnect(s.client)
	s.client.Close()
	_ = s.conn.Close()
	metrics.DecConnection()

	logging.Info(ctx, "Session ended",
		zap.Int64("userId", s.client.UserID()),
		zap.String("clientId", s.client.ID()))
}

// readPump consumes inbound frames and feeds the dispatcher. Fatal
// dispatch errors and read errors end the session.
func (s *session) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	pongWait := s.heartbeat * 2
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warn(ctx, "Unexpected socket close",
					zap.Int64("userId", s.client.UserID()), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.dispatcher.Handle(ctx, raw); err != nil {
			logging.Error(ctx, "Fatal event error - closing session",
				zap.Int64("userId", s.client.UserID()), zap.Error(err))
			return
		}
	}
}

// writePump drains the client queue onto the socket. A close frame is
// written through and then ends the session.
func (s *session) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f, ok := <-s.client.Queue():
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(f.Type, f.Data); err != nil {
				return
			}
			if f.Type == websocket.CloseMessage {
				return
			}
		}
	}
}

// heartbeatPump enqueues a ping through the client queue so keep-alives
// stay ordered with regular traffic.
func (s *session) heartbeatPump(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.Send(hub.PingFrame()); err != nil {
				return
			}
		}
	}
}
