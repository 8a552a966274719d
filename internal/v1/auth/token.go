// Package auth issues and verifies the service's own HS256 tokens and
// hashes passwords. Access tokens authenticate HTTP calls and the
// WebSocket upgrade; refresh tokens are paired with a session record in
// the cache.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/quillchat/backend/internal/v1/errs"
)

// Role constants for the global user role.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Claims is the token payload. RoomID is the user's personal room, the
// cross-device delivery channel. Refresh marks refresh tokens so they
// cannot be replayed as access tokens.
type Claims struct {
	ID      uuid.UUID `json:"id"`
	UserID  int64     `json:"userId"`
	RoomID  int64     `json:"roomId"`
	Role    string    `json:"role"`
	Refresh bool      `json:"refresh"`
	jwt.RegisteredClaims
}

// TokenMaker mints and verifies tokens with a shared HMAC secret.
type TokenMaker struct {
	secret []byte
}

func NewTokenMaker(secret string) *TokenMaker {
	return &TokenMaker{secret: []byte(secret)}
}

// Create mints a signed token for the user with the given lifetime.
func (m *TokenMaker) Create(userID, roomID int64, role string, refresh bool, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		ID:      uuid.New(),
		UserID:  userID,
		RoomID:  roomID,
		Role:    role,
		Refresh: refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, errs.Wrap(errs.KindStore, "Token creation error", err)
	}
	return signed, claims, nil
}

// Verify parses and validates a token string. Expired tokens map to
// TokenExpired so the HTTP layer can answer with the refresh sentinel.
func (m *TokenMaker) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.ErrTokenExpired
		}
		return nil, errs.ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errs.ErrUnauthorized
	}
	return claims, nil
}

// VerifyAccess verifies a token and rejects refresh tokens.
func (m *TokenMaker) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Refresh {
		return nil, errs.ErrUnauthorized
	}
	return claims, nil
}

// VerifyRefresh verifies a token and rejects access tokens.
func (m *TokenMaker) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.Refresh {
		return nil, errs.ErrUnauthorized
	}
	return claims, nil
}
