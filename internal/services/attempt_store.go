package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptStore counts failures per key inside a fixed window that opens on
// the first failure. Increment must be atomic per key.
type AttemptStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns zero attempts once the window has elapsed.
	Get(ctx context.Context, key string) (attempts int64, ttl time.Duration, err error)
	Delete(ctx context.Context, key string) error
}

// NewAttemptStore picks the store named by cfg.Throttle.Store. An unreachable
// Redis degrades to the in-memory store.
func NewAttemptStore(cfg *config.Config, db *gorm.DB) AttemptStore {
	switch cfg.Throttle.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("[Throttle] Redis unavailable, falling back to memory store")
			client.Close()
			return NewMemoryAttemptStore()
		}
		logger.Infof("[Throttle] Using Redis attempt store at %s", cfg.Redis.Addr)
		return NewRedisAttemptStore(client, "gatehouse:login:")
	case "database":
		logger.Infof("[Throttle] Using database attempt store")
		return NewDBAttemptStore(db)
	default:
		logger.Infof("[Throttle] Using in-memory attempt store")
		return NewMemoryAttemptStore()
	}
}

type memoryAttempt struct {
	count     int64
	expiresAt time.Time
}

// MemoryAttemptStore keeps counters in process. Suitable for a single instance.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	entries map[string]*memoryAttempt
	now     func() time.Time
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		entries: make(map[string]*memoryAttempt),
		now:     time.Now,
	}
}

func (s *MemoryAttemptStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &memoryAttempt{expiresAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (s *MemoryAttemptStore) Get(_ context.Context, key string) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		return 0, 0, nil
	}
	return e.count, e.expiresAt.Sub(now), nil
}

func (s *MemoryAttemptStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// PurgeExpired drops elapsed windows and returns how many were removed.
func (s *MemoryAttemptStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisAttemptStore shares counters between instances. Expiry is handled by Redis.
type RedisAttemptStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAttemptStore(client redis.UniversalClient, prefix string) *RedisAttemptStore {
	return &RedisAttemptStore{client: client, prefix: prefix}
}

func (s *RedisAttemptStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64()
}

func (s *RedisAttemptStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, s.prefix+key)
	ttl := pipe.PTTL(ctx, s.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}

	n, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = 0
	}
	return n, remaining, nil
}

func (s *RedisAttemptStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// DBAttemptStore keeps counters in login_attempts so every instance sharing
// the database sees the same lockouts.
type DBAttemptStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBAttemptStore(db *gorm.DB) *DBAttemptStore {
	return &DBAttemptStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Increment is a single upsert; the CASE restarts the window once it has elapsed.
func (s *DBAttemptStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()
	row := models.LoginAttempt{
		ThrottleKey: key,
		Attempts:    1,
		ExpiresAt:   now.Add(window),
	}

	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "throttle_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"attempts":   gorm.Expr("CASE WHEN login_attempts.expires_at > ? THEN login_attempts.attempts + 1 ELSE 1 END", now),
			"expires_at": gorm.Expr("CASE WHEN login_attempts.expires_at > ? THEN login_attempts.expires_at ELSE ? END", now, row.ExpiresAt),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, err
	}

	var current models.LoginAttempt
	if err := db.Where("throttle_key = ?", key).First(&current).Error; err != nil {
		return 0, err
	}
	return current.Attempts, nil
}

func (s *DBAttemptStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	var rec models.LoginAttempt
	err := s.db.WithContext(ctx).Where("throttle_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	now := s.now()
	if !rec.ExpiresAt.After(now) {
		return 0, 0, nil
	}
	return rec.Attempts, rec.ExpiresAt.Sub(now), nil
}

func (s *DBAttemptStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("throttle_key = ?", key).Delete(&models.LoginAttempt{}).Error
}

func (s *DBAttemptStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.LoginAttempt{})
	return res.RowsAffected, res.Error
}
