package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"iap-reconciler/pkg/logging"
)

const claimKeyPrefix = "iap:claim:"

// RedisClaimStore shares claims between processes as redsync mutexes. A
// claim expires after ttl, and a release after a takeover leaves the new
// owner's claim alone.
type RedisClaimStore struct {
	redsync *redsync.Redsync
	ttl     time.Duration

	mu   sync.Mutex
	held map[string]*redsync.Mutex
}

func NewRedisClaimStore(client *redis.Client, ttl time.Duration) *RedisClaimStore {
	return &RedisClaimStore{
		redsync: redsync.New(goredis.NewPool(client)),
		ttl:     ttl,
		held:    make(map[string]*redsync.Mutex),
	}
}

func (s *RedisClaimStore) Claim(ctx context.Context, key string) (bool, error) {
	mutex := s.redsync.NewMutex(
		claimKeyPrefix+key,
		redsync.WithExpiry(s.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		if lockContended(err) {
			logging.Debugf("Claim %s is held by another process", key)
			return false, nil
		}
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	s.mu.Lock()
	s.held[key] = mutex
	s.mu.Unlock()
	return true, nil
}

func lockContended(err error) bool {
	var (
		taken      *redsync.ErrTaken
		takenValue redsync.ErrTaken
	)
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &takenValue)
}

// Release is a no-op for keys this store does not hold.
func (s *RedisClaimStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	mutex, ok := s.held[key]
	delete(s.held, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	released, err := mutex.UnlockContext(ctx)
	if err != nil && !errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	if !released {
		logging.Warnf("Claim %s expired before release", key)
	}
	return nil
}

// MemoryClaimStore 进程内声明存储
// Claims expire after ttl; a cleanup routine drops expired entries.
type MemoryClaimStore struct {
	claims          map[string]time.Time
	mutex           sync.Mutex
	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

func NewMemoryClaimStore(ttl time.Duration) *MemoryClaimStore {
	s := &MemoryClaimStore{
		claims:          make(map[string]time.Time),
		ttl:             ttl,
		cleanupInterval: time.Minute,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
	}

	go s.startCleanupRoutine()

	return s
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	if claimedAt, exists := s.claims[key]; exists && now.Sub(claimedAt) < s.ttl {
		return false, nil
	}
	s.claims[key] = now
	return true, nil
}

func (s *MemoryClaimStore) Release(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.claims, key)
	return nil
}

func (s *MemoryClaimStore) startCleanupRoutine() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryClaimStore) cleanup() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	initialCount := len(s.claims)

	for key, claimedAt := range s.claims {
		if now.Sub(claimedAt) >= s.ttl {
			delete(s.claims, key)
		}
	}

	if cleaned := initialCount - len(s.claims); cleaned > 0 {
		logging.Infof("Claim cleanup: removed %d expired claims, remaining: %d", cleaned, len(s.claims))
	}
}

// GetStats 获取统计信息
func (s *MemoryClaimStore) GetStats() map[string]interface{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return map[string]interface{}{
		"active_claims": len(s.claims),
		"claim_ttl":     s.ttl.String(),
	}
}

// Stop 停止清理协程
func (s *MemoryClaimStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}
