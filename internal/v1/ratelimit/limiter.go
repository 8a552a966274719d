// Package ratelimit wraps ulule/limiter for the two abuse-prone
// entries: password login and the WebSocket upgrade.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/quillchat/backend/internal/v1/config"
	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/metrics"
)

// RateLimiter holds the per-endpoint limiter instances. Both are keyed
// by client IP.
type RateLimiter struct {
	login *limiter.Limiter
	wsIP  *limiter.Limiter
}

// NewRateLimiter builds the limiters over Redis, or over process
// memory when no Redis client is supplied.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	loginRate, err := limiter.NewRateFromFormatted(cfg.RateLimitLogin)
	if err != nil {
		return nil, fmt.Errorf("invalid login rate: %w", err)
	}
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIp)
	if err != nil {
		return nil, fmt.Errorf("invalid ws rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using memory store")
	}

	return &RateLimiter{
		login: limiter.New(store, loginRate),
		wsIP:  limiter.New(store, wsRate),
	}, nil
}

// LoginMiddleware throttles password attempts per IP.
func (rl *RateLimiter) LoginMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := rl.login.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open; availability beats strictness here.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues("login", "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many login attempts",
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues("login").Inc()
		c.Next()
	}
}

// CheckWebSocket reports whether an upgrade from this IP is allowed,
// answering 429 itself when it is not.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket", "ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "Too many connections from this IP",
		})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("websocket").Inc()
	return true
}
