// Package hub is the in-memory fan-out fabric: it couples client
// sockets to chat rooms. Clients hold bounded outbound queues, every
// live room is owned by a single actor goroutine, and the Hub routes
// commands between them.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/metrics"
)

// ErrClientClosed is returned by Send once the owning session has shut
// the queue down. A full queue is not an error; the frame is dropped.
var ErrClientClosed = errors.New("client queue closed")

// Frame is one outbound WebSocket frame queued for a client.
type Frame struct {
	Type int
	Data []byte
}

// TextFrame wraps a serialized event payload.
func TextFrame(data []byte) Frame {
	return Frame{Type: websocket.TextMessage, Data: data}
}

// PingFrame is the keep-alive sent by the heartbeat pump.
func PingFrame() Frame {
	return Frame{Type: websocket.PingMessage}
}

// CloseFrame carries a close reason, e.g. on duplicate login.
func CloseFrame(reason string) Frame {
	return Frame{
		Type: websocket.CloseMessage,
		Data: websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
	}
}

// Client identifies one live socket and carries its outbound queue.
// The session owns the Client; everything else only enqueues frames.
type Client struct {
	id     string
	userID int64
	roomID int64 // personal room, the cross-device channel
	device string

	queue chan Frame

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewClient creates a Client with a fresh id and a bounded queue.
func NewClient(userID, roomID int64, device string, capacity int) *Client {
	return &Client{
		id:     uuid.New().String(),
		userID: userID,
		roomID: roomID,
		device: device,
		queue:  make(chan Frame, capacity),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() int64 { return c.userID }

// PersonalRoomID is the room used to reach all of this user's devices.
func (c *Client) PersonalRoomID() int64 { return c.roomID }

// Device is the opaque device identity supplied at connect time.
func (c *Client) Device() string { return c.device }

// Queue exposes the receive side for the session's writer pump.
func (c *Client) Queue() <-chan Frame { return c.queue }

// Send enqueues a frame without blocking. When the queue is full the
// frame is dropped for this client only; delivery is best-effort.
func (c *Client) Send(f Frame) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClientClosed
	}
	c.mu.RUnlock()

	// The queue may be closed between the check and the send.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send on closed client queue",
				zap.String("clientId", c.id), zap.Any("panic", r))
		}
	}()

	select {
	case c.queue <- f:
	default:
		metrics.DroppedMessages.Inc()
		logging.Warn(context.Background(), "Client queue full - dropping frame",
			zap.String("clientId", c.id), zap.Int64("userId", c.userID))
	}
	return nil
}

// Close shuts the queue down. Called once by the owning session after
// its pumps have stopped; the writer drains what is left.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.queue)
	})
}
