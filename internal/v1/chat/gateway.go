package chat

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillchat/backend/internal/v1/auth"
	"github.com/quillchat/backend/internal/v1/config"
	"github.com/quillchat/backend/internal/v1/hub"
	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/store"
)

// Gateway upgrades authenticated HTTP requests to chat sessions.
type Gateway struct {
	hub      *hub.Hub
	handlers *Handlers
	tokens   *auth.TokenMaker
	cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewGateway(h *hub.Hub, s *store.Store, tokens *auth.TokenMaker, cfg *config.Config) *Gateway {
	return &Gateway{
		hub:      h,
		handlers: NewHandlers(h, s),
		tokens:   tokens,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg),
		},
	}
}

func originChecker(cfg *config.Config) func(*http.Request) bool {
	if cfg.DevelopmentMode || cfg.AllowedOrigins == "" {
		return func(*http.Request) bool { return true }
	}
	allowed := strings.Split(cfg.AllowedOrigins, ",")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.TrimSpace(a) == origin {
				return true
			}
		}
		return false
	}
}

// ServeWs is the GET /ws handler. The access token comes from the
// Authorization header, the token query parameter, or the WebSocket
// subprotocol; device identifies the client for duplicate-login
// eviction.
func (g *Gateway) ServeWs(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := g.tokens.VerifyAccess(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var header http.Header
	if proto := c.GetHeader("Sec-WebSocket-Protocol"); proto != "" {
		// Echo the subprotocol back so browser clients complete the
		// handshake when they smuggled the token through it.
		header = http.Header{"Sec-WebSocket-Protocol": {strings.Split(proto, ",")[0]}}
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	device := c.Query("device")
	client := hub.NewClient(claims.UserID, claims.RoomID, device, g.cfg.QueueCapacity)
	session := newSession(conn, client, g.hub, g.handlers, g.cfg.HeartbeatInterval)
	// The request context dies with the handler; the session outlives it.
	go session.run(context.Background())
}

// bearerToken extracts the access token from its allowed carriers.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if t := c.Query("token"); t != "" {
		return t
	}
	// Browser WebSocket clients cannot set headers; the token rides in
	// the subprotocol list as "bearer, <token>".
	if proto := c.GetHeader("Sec-WebSocket-Protocol"); proto != "" {
		parts := strings.Split(proto, ",")
		if len(parts) == 2 && strings.TrimSpace(parts[0]) == "bearer" {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}
