package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/quillchat/backend/internal/v1/errs"
	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/metrics"
)

// Cache holds the Redis-backed state: per-room message history and
// refresh sessions. All calls go through a circuit breaker so a Redis
// outage degrades the service instead of hanging it.
type Cache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

func NewCache(client *redis.Client) *Cache {
	settings := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.GetLogger().Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}
	return &Cache{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	default:
		return 2
	}
}

// execute runs op through the breaker and normalizes failures.
func (c *Cache) execute(op func() (any, error)) (any, error) {
	result, err := c.breaker.Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis-cache").Inc()
		}
		return nil, errs.CacheFailure(err)
	}
	return result, nil
}

func messagesKey(roomID int64) string { return fmt.Sprintf("room:%d:messages", roomID) }
func sessionKey(id string) string     { return fmt.Sprintf("session:%s", id) }
func messageCounterKey() string       { return "message:id" }

// NextMessageID allocates a globally unique, monotonically increasing
// message id.
func (c *Cache) NextMessageID(ctx context.Context) (int64, error) {
	result, err := c.execute(func() (any, error) {
		return c.client.Incr(ctx, messageCounterKey()).Result()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// PushMessage prepends a message to the room's history and trims the
// list to the retained window.
func (c *Cache) PushMessage(ctx context.Context, roomID int64, msg *MessageInfo) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errs.SerializeFailure(err)
	}
	_, err = c.execute(func() (any, error) {
		pipe := c.client.TxPipeline()
		pipe.LPush(ctx, messagesKey(roomID), payload)
		pipe.LTrim(ctx, messagesKey(roomID), 0, MessagesPerRoom-1)
		return pipe.Exec(ctx)
	})
	return err
}

// RecentMessages returns up to RecentMessageCount messages for a room,
// oldest first.
func (c *Cache) RecentMessages(ctx context.Context, roomID int64) ([]MessageInfo, error) {
	result, err := c.execute(func() (any, error) {
		return c.client.LRange(ctx, messagesKey(roomID), 0, RecentMessageCount-1).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := result.([]string)
	// LPUSH stores newest first; reverse into chronological order.
	messages := make([]MessageInfo, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg MessageInfo
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			return nil, errs.SerializeFailure(err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// DropRoomMessages discards a deleted room's history.
func (c *Cache) DropRoomMessages(ctx context.Context, roomIDs ...int64) error {
	if len(roomIDs) == 0 {
		return nil
	}
	keys := make([]string, len(roomIDs))
	for i, id := range roomIDs {
		keys[i] = messagesKey(id)
	}
	_, err := c.execute(func() (any, error) {
		return c.client.Del(ctx, keys...).Result()
	})
	return err
}

// Session is a refresh session stored until its TTL or an explicit
// logout.
type Session struct {
	ID       string `json:"id"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Device   string `json:"device"`
}

// CreateSession stores a refresh session under its token id.
func (c *Cache) CreateSession(ctx context.Context, session *Session, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return errs.SerializeFailure(err)
	}
	_, err = c.execute(func() (any, error) {
		return c.client.Set(ctx, sessionKey(session.ID), payload, ttl).Result()
	})
	return err
}

// GetSession looks a refresh session up; missing or expired sessions
// report ErrUnauthorized. A miss is not a breaker failure.
func (c *Cache) GetSession(ctx context.Context, id string) (*Session, error) {
	result, err := c.execute(func() (any, error) {
		val, err := c.client.Get(ctx, sessionKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errs.ErrUnauthorized
	}
	var session Session
	if err := json.Unmarshal([]byte(result.(string)), &session); err != nil {
		return nil, errs.SerializeFailure(err)
	}
	return &session, nil
}

// DeleteSession invalidates a refresh session on logout.
func (c *Cache) DeleteSession(ctx context.Context, id string) error {
	_, err := c.execute(func() (any, error) {
		return c.client.Del(ctx, sessionKey(id)).Result()
	})
	return err
}
