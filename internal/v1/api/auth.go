package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quillchat/backend/internal/v1/auth"
	"github.com/quillchat/backend/internal/v1/errs"
	"github.com/quillchat/backend/internal/v1/store"
)

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=50"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Device   string `json:"device" binding:"max=100"`
}

type loginResponse struct {
	User         store.UserInfo `json:"user"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
}

// login checks the password and opens a refresh session.
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrBadRequest)
		return
	}

	user, err := s.store.GetUserByName(c.Request.Context(), req.Username)
	if err != nil {
		fail(c, err)
		return
	}
	if err := auth.CheckPassword(req.Password, user.HashedPassword); err != nil {
		fail(c, err)
		return
	}

	access, _, err := s.tokens.Create(user.ID, user.RoomID, user.Role, false, s.cfg.TokenTTL)
	if err != nil {
		fail(c, err)
		return
	}
	refresh, refreshClaims, err := s.tokens.Create(user.ID, user.RoomID, user.Role, true, s.cfg.SessionTTL)
	if err != nil {
		fail(c, err)
		return
	}

	session := &store.Session{
		ID:       refreshClaims.ID.String(),
		UserID:   user.ID,
		Username: user.Username,
		Device:   req.Device,
	}
	if err := s.store.CreateSession(c.Request.Context(), session, s.cfg.SessionTTL); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		User:         user.Info(),
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

// refreshClaims authenticates the refresh token carried in the
// Authorization header against its stored session.
func (s *Server) refreshClaims(c *gin.Context) (*auth.Claims, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errs.ErrUnauthorized
	}
	claims, err := s.tokens.VerifyRefresh(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetSession(c.Request.Context(), claims.ID.String())
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UserID {
		return nil, errs.ErrUnauthorized
	}
	return claims, nil
}

// autoLogin exchanges a live refresh session for a fresh access token
// and the current user profile.
func (s *Server) autoLogin(c *gin.Context) {
	claims, err := s.refreshClaims(c)
	if err != nil {
		fail(c, err)
		return
	}
	user, err := s.store.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	access, _, err := s.tokens.Create(user.ID, user.RoomID, user.Role, false, s.cfg.TokenTTL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        user.Info(),
		"accessToken": access,
	})
}

// renewToken mints a fresh access token from a live refresh session.
func (s *Server) renewToken(c *gin.Context) {
	claims, err := s.refreshClaims(c)
	if err != nil {
		fail(c, err)
		return
	}
	access, _, err := s.tokens.Create(claims.UserID, claims.RoomID, claims.Role, false, s.cfg.TokenTTL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": access})
}

// logout deletes the refresh session; the access token simply ages
// out.
func (s *Server) logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		fail(c, errs.ErrUnauthorized)
		return
	}
	claims, err := s.tokens.VerifyRefresh(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.DeleteSession(c.Request.Context(), claims.ID.String()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
