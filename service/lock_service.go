package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld means another request currently owns the lock.
var ErrLockHeld = errors.New("lock held by another request")

const (
	userLockTTL    = 2 * time.Minute
	walletLockTTL  = 2 * time.Minute
	walletLockWait = 30 * time.Second
	lockPollDelay  = 100 * time.Millisecond
)

// LockService provides the two locks the pipeline needs: a per-user lock so a
// user cannot start a second withdrawal while one is in flight, and a global
// hot-wallet lock that serializes broadcasts across all users, since every
// withdrawal consumes the same wallet seqno.
type LockService interface {
	// AcquireUserLock fails fast with ErrLockHeld.
	AcquireUserLock(ctx context.Context, userID string) (release func(), err error)
	// AcquireWalletLock blocks, bounded by walletLockWait.
	AcquireWalletLock(ctx context.Context) (release func(), err error)
}

// ==========================
// redis-backed (multi-replica)
// ==========================

// releaseScript deletes the lock only if this holder still owns it, so an
// expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisLockService struct {
	rdb *redis.Client
}

func NewRedisLockService(rdb *redis.Client) *RedisLockService {
	return &RedisLockService{rdb: rdb}
}

func (s *RedisLockService) AcquireUserLock(ctx context.Context, userID string) (func(), error) {
	return s.tryAcquire(ctx, "withdraw:lock:user:"+userID, userLockTTL)
}

func (s *RedisLockService) AcquireWalletLock(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(walletLockWait)
	for {
		release, err := s.tryAcquire(ctx, "withdraw:lock:hotwallet", walletLockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, errors.New("timed out waiting for hot wallet lock")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollDelay):
		}
	}
}

func (s *RedisLockService) tryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := newLockToken()
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		// Release must not inherit a cancelled request context.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, s.rdb, []string{key}, token).Err()
	}, nil
}

func newLockToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ==========================
// in-process (single replica, tests)
// ==========================

type LocalLockService struct {
	mu     sync.Mutex
	users  map[string]bool
	wallet sync.Mutex
}

func NewLocalLockService() *LocalLockService {
	return &LocalLockService{users: map[string]bool{}}
}

func (s *LocalLockService) AcquireUserLock(_ context.Context, userID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[userID] {
		return nil, ErrLockHeld
	}
	s.users[userID] = true
	return func() {
		s.mu.Lock()
		delete(s.users, userID)
		s.mu.Unlock()
	}, nil
}

func (s *LocalLockService) AcquireWalletLock(_ context.Context) (func(), error) {
	s.wallet.Lock()
	return s.wallet.Unlock, nil
}
