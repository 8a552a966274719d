package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/quillchat/backend/internal/v1/api"
	"github.com/quillchat/backend/internal/v1/auth"
	"github.com/quillchat/backend/internal/v1/config"
	"github.com/quillchat/backend/internal/v1/hub"
	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/middleware"
	"github.com/quillchat/backend/internal/v1/ratelimit"
	"github.com/quillchat/backend/internal/v1/store"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(cfg.PublicDir, 0o755); err != nil {
		slog.Error("Failed to create public directory", "error", err)
		os.Exit(1)
	}

	// --- Store (Postgres + Redis) ---
	st, err := store.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}

	// Bootstrap admin account, for fresh deployments.
	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		password := os.Getenv("ADMIN_PASSWORD")
		hashed, err := auth.HashPassword(password)
		if err != nil {
			slog.Error("Failed to hash admin password", "error", err)
			os.Exit(1)
		}
		if _, err := st.EnsureAdmin(context.Background(), username, hashed, "Admin"); err != nil {
			slog.Error("Failed to ensure admin account", "error", err)
			os.Exit(1)
		}
	}

	tokens := auth.NewTokenMaker(cfg.JWTSecret)
	chatHub := hub.New(cfg.QueueCapacity)

	limiter, err := ratelimit.NewRateLimiter(cfg, st.Redis())
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Set up Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	server := api.NewServer(cfg, st, tokens, chatHub, limiter)
	server.Register(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all sessions and room actors first so sockets drain.
	chatHub.Shutdown(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if err := st.Close(); err != nil {
		slog.Error("Failed to close store:", "error", err)
	}

	slog.Info("Server exiting")
}
