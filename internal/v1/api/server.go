// Package api is the HTTP surface: authentication, user management,
// file upload, and the admin hub status endpoint.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillchat/backend/internal/v1/auth"
	"github.com/quillchat/backend/internal/v1/chat"
	"github.com/quillchat/backend/internal/v1/config"
	"github.com/quillchat/backend/internal/v1/errs"
	"github.com/quillchat/backend/internal/v1/health"
	"github.com/quillchat/backend/internal/v1/hub"
	"github.com/quillchat/backend/internal/v1/middleware"
	"github.com/quillchat/backend/internal/v1/ratelimit"
	"github.com/quillchat/backend/internal/v1/store"
)

// Server wires the HTTP handlers over the shared collaborators.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	tokens  *auth.TokenMaker
	hub     *hub.Hub
	gateway *chat.Gateway
	limiter *ratelimit.RateLimiter
	health  *health.Handler
}

func NewServer(cfg *config.Config, s *store.Store, tokens *auth.TokenMaker, h *hub.Hub, limiter *ratelimit.RateLimiter) *Server {
	return &Server{
		cfg:     cfg,
		store:   s,
		tokens:  tokens,
		hub:     h,
		gateway: chat.NewGateway(h, s, tokens, cfg),
		limiter: limiter,
		health:  health.NewHandler(s),
	}
}

// Register mounts every route on the router.
func (s *Server) Register(router *gin.Engine) {
	router.GET("/health/live", s.health.Liveness)
	router.GET("/health/ready", s.health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.Static("/public", s.cfg.PublicDir)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", s.limiter.LoginMiddleware(), s.login)
		authGroup.POST("/auto-login", s.autoLogin)
		authGroup.POST("/renew-token", s.renewToken)
		authGroup.POST("/logout", s.logout)
	}

	authed := router.Group("", middleware.Auth(s.tokens))
	{
		authed.GET("/user/me", s.me)
		authed.GET("/user/find", s.findUser)
		authed.POST("/user/password", s.changePassword)
		authed.POST("/message/file", s.uploadFile)

		authed.POST("/user", middleware.RequireAdmin(), s.createUser)
		authed.GET("/hub/status", middleware.RequireAdmin(), s.hubStatus)
	}

	router.GET("/ws", func(c *gin.Context) {
		if !s.limiter.CheckWebSocket(c) {
			return
		}
		s.gateway.ServeWs(c)
	})
}

// fail renders an app error with its mapped status code.
func fail(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"error": errs.Message(err)})
}

// hubStatus reports live connection counts. Admin only.
func (s *Server) hubStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Status())
}
