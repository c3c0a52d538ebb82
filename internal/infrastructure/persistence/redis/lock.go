package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
	"github.com/alem-hub/fitness-progression/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED USER LOCK
// ══════════════════════════════════════════════════════════════════════════════

// errLockHeld signals that another holder owns the key; the caller keeps polling.
var errLockHeld = errors.New("redis: lock held by another owner")

// releaseScript deletes the key only if it still holds our token, so an expired
// lock taken over by another instance is never released by the old owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLocker implements progression.Locker across instances with SET NX PX.
type UserLocker struct {
	client  *redis.Client
	ttl     time.Duration
	wait    time.Duration
	retrier *retry.Retrier
}

// LockerOption configures a UserLocker.
type LockerOption func(*UserLocker)

// WithLockTTL sets how long a lock survives a crashed holder.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *UserLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockWait bounds how long Lock polls before giving up.
func WithLockWait(wait time.Duration) LockerOption {
	return func(l *UserLocker) {
		if wait > 0 {
			l.wait = wait
		}
	}
}

// WithLockRetrier replaces the polling schedule.
func WithLockRetrier(r *retry.Retrier) LockerOption {
	return func(l *UserLocker) {
		if r != nil {
			l.retrier = r
		}
	}
}

// NewUserLocker creates a UserLocker on top of the cache client.
func NewUserLocker(cache *Cache, opts ...LockerOption) *UserLocker {
	l := &UserLocker{
		client:  cache.Client(),
		ttl:     TTLDistributedLock,
		wait:    3 * time.Second,
		retrier: retry.LockRetrier(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock acquires the per-user lock and returns its release function.
// Failing to acquire within the wait budget yields shared.ErrLockNotAcquired.
func (l *UserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := LockKey("user:" + userID)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	err := l.retrier.Do(waitCtx, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return retry.Permanent(err)
		}
		if !ok {
			return retry.Retryable(errLockHeld)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockHeld) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, shared.WrapError("progression", "Lock", shared.ErrLockNotAcquired,
				fmt.Sprintf("user %s is locked", userID), err)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}
