// Package store persists chat state: users, rooms, members, and
// friendships in Postgres via gorm, message history and refresh
// sessions in Redis.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quillchat/backend/internal/v1/config"
	"github.com/quillchat/backend/internal/v1/errs"
)

// Store bundles the relational database and the cache.
type Store struct {
	db    *gorm.DB
	cache *Cache
}

// New connects to Postgres and Redis and runs migrations.
func New(cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := &Store{db: db, cache: NewCache(rdb)}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithConns builds a Store over existing connections. Used by tests.
func NewWithConns(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{db: db, cache: NewCache(rdb)}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&User{}, &Room{}, &Member{}, &Friend{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// PingDB verifies database connectivity; used by the readiness probe.
func (s *Store) PingDB(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PingCache verifies Redis connectivity.
func (s *Store) PingCache(ctx context.Context) error {
	return s.cache.client.Ping(ctx).Err()
}

// Redis exposes the raw client for collaborators that share the
// connection, e.g. the rate limiter store.
func (s *Store) Redis() *redis.Client {
	return s.cache.client
}

// Close releases both connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
	return s.cache.client.Close()
}

// Session delegates, so callers never touch the cache directly.

func (s *Store) CreateSession(ctx context.Context, session *Session, ttl time.Duration) error {
	return s.cache.CreateSession(ctx, session, ttl)
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.cache.GetSession(ctx, id)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.cache.DeleteSession(ctx, id)
}

// wrapDB converts a gorm error to the app error model.
func wrapDB(err error) error {
	if err == nil {
		return nil
	}
	if err == gorm.ErrRecordNotFound {
		return errs.ErrNotFound
	}
	msg := err.Error()
	// Postgres 23505 / sqlite UNIQUE violations on the username index.
	if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint") {
		return errs.UniqueConstraint("username")
	}
	return errs.StoreFailure(err)
}
