package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quillchat/backend/internal/v1/auth"
	"github.com/quillchat/backend/internal/v1/errs"
	"github.com/quillchat/backend/internal/v1/middleware"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required,min=2,max=50"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Nickname string `json:"nickname" binding:"required,min=2,max=50"`
}

// createUser registers an account. Admin only; the personal room is
// created in the same transaction.
func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrBadRequest)
		return
	}
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	info, err := s.store.CreateUser(c.Request.Context(), req.Username, hashed, req.Nickname)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// me returns the caller's own profile.
func (s *Server) me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	user, err := s.store.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Info())
}

// findUser looks a user up by exact username, for friend requests.
func (s *Server) findUser(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		fail(c, errs.Validation("username is required"))
		return
	}
	info, err := s.store.FindUser(c.Request.Context(), username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required,min=6,max=72"`
	NewPassword string `json:"newPassword" binding:"required,min=6,max=72"`
}

// changePassword verifies the current password before swapping it.
func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrBadRequest)
		return
	}

	claims := middleware.GetClaims(c)
	user, err := s.store.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := auth.CheckPassword(req.OldPassword, user.HashedPassword); err != nil {
		fail(c, err)
		return
	}
	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.ChangePassword(c.Request.Context(), user.ID, hashed); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}
