package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quillchat/backend/internal/v1/auth"
	"github.com/quillchat/backend/internal/v1/config"
	"github.com/quillchat/backend/internal/v1/hub"
	"github.com/quillchat/backend/internal/v1/ratelimit"
	"github.com/quillchat/backend/internal/v1/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	router *gin.Engine
	server *Server
	store  *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := store.NewWithConns(db, rdb)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		JWTSecret:         testSecret,
		PublicDir:         t.TempDir(),
		TokenTTL:          time.Minute,
		SessionTTL:        time.Hour,
		QueueCapacity:     16,
		HeartbeatInterval: time.Second,
		RateLimitLogin:    "100-M",
		RateLimitWsIp:     "100-M",
	}
	limiter, err := ratelimit.NewRateLimiter(cfg, nil)
	require.NoError(t, err)

	h := hub.New(cfg.QueueCapacity)
	t.Cleanup(func() { h.Shutdown(context.Background()) })

	srv := NewServer(cfg, s, auth.NewTokenMaker(cfg.JWTSecret), h, limiter)
	router := gin.New()
	srv.Register(router)

	return &testServer{router: router, server: srv, store: s}
}

func (ts *testServer) seedUser(t *testing.T, username, password string) *store.UserInfo {
	t.Helper()
	hashed, err := auth.HashPassword(password)
	require.NoError(t, err)
	info, err := ts.store.CreateUser(context.Background(), username, hashed, username+"-nick")
	require.NoError(t, err)
	return info
}

func (ts *testServer) seedAdmin(t *testing.T, username, password string) *store.UserInfo {
	t.Helper()
	hashed, err := auth.HashPassword(password)
	require.NoError(t, err)
	info, err := ts.store.EnsureAdmin(context.Background(), username, hashed, "Admin")
	require.NoError(t, err)
	return info
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) loginAs(t *testing.T, username, password string) loginResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"username": username, "password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")

	resp := ts.loginAs(t, "alice", "secret123")
	assert.Equal(t, "alice", resp.User.Username)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	w := ts.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "wrongpass"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "nobody", "password": "secret123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")
	resp := ts.loginAs(t, "alice", "secret123")

	// Renew with the refresh token.
	w := ts.do(t, http.MethodPost, "/auth/renew-token", resp.RefreshToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "accessToken")

	// An access token is not a refresh token.
	w = ts.do(t, http.MethodPost, "/auth/renew-token", resp.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Auto-login returns the profile too.
	w = ts.do(t, http.MethodPost, "/auth/auto-login", resp.RefreshToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice")

	// Logout invalidates the session.
	w = ts.do(t, http.MethodPost, "/auth/logout", resp.RefreshToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/auth/renew-token", resp.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")
	resp := ts.loginAs(t, "alice", "secret123")

	w := ts.do(t, http.MethodGet, "/user/me", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice-nick")

	w = ts.do(t, http.MethodGet, "/user/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFindUser(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")
	ts.seedUser(t, "bob", "secret123")
	resp := ts.loginAs(t, "alice", "secret123")

	w := ts.do(t, http.MethodGet, "/user/find?username=bob", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bob-nick")

	w = ts.do(t, http.MethodGet, "/user/find?username=ghost", resp.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/user/find", resp.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")
	resp := ts.loginAs(t, "alice", "secret123")

	w := ts.do(t, http.MethodPost, "/user/password", resp.AccessToken, gin.H{
		"oldPassword": "wrongpass", "newPassword": "newsecret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/user/password", resp.AccessToken, gin.H{
		"oldPassword": "secret123", "newPassword": "newsecret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	ts.loginAs(t, "alice", "newsecret")
}

func TestCreateUser_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")
	ts.seedAdmin(t, "root", "rootsecret")

	user := ts.loginAs(t, "alice", "secret123")
	w := ts.do(t, http.MethodPost, "/user", user.AccessToken, gin.H{
		"username": "carol", "password": "secret123", "nickname": "Carol",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := ts.loginAs(t, "root", "rootsecret")
	w = ts.do(t, http.MethodPost, "/user", admin.AccessToken, gin.H{
		"username": "carol", "password": "secret123", "nickname": "Carol",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Duplicate username.
	w = ts.do(t, http.MethodPost, "/user", admin.AccessToken, gin.H{
		"username": "carol", "password": "secret123", "nickname": "Copy",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHubStatus_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")
	ts.seedAdmin(t, "root", "rootsecret")

	user := ts.loginAs(t, "alice", "secret123")
	assert.Equal(t, http.StatusForbidden,
		ts.do(t, http.MethodGet, "/hub/status", user.AccessToken, nil).Code)

	admin := ts.loginAs(t, "root", "rootsecret")
	w := ts.do(t, http.MethodGet, "/hub/status", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "numUsers")
}

func TestUploadFile(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "secret123")
	resp := ts.loginAs(t, "alice", "secret123")

	upload := func(filename, contentType string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte("file-bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/message/file", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		return w
	}

	w := upload("photo.png", "image/png")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "photo.png", body["content"])
	assert.Equal(t, store.KindImage, body["kind"])
	assert.Contains(t, body["fileUrl"], "/public/")

	w = upload("notes.pdf", "application/pdf")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, store.KindFile, body["kind"])
}
