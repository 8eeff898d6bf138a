package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockTimeout means the key stayed held by someone else for the whole
	// acquire wait. Callers report it as a terminal outcome, they do not retry.
	ErrLockTimeout = errors.New("lock not acquired within wait window")
)

// retryEvery is how often a blocked acquirer re-attempts SetNX.
const retryEvery = 200 * time.Millisecond

// Locker serializes conflicting portal-side mutations. Keys are business
// identities (professional+date+slot+patient, or the patient itself for
// sync), so unrelated work proceeds in parallel.
type Locker interface {
	// Acquire blocks up to wait for the key to free. The returned token must
	// be presented at release time. The lease bounds how long the lock
	// survives if the holder never releases it.
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (string, error)

	// Release is a no-op when the token does not match or the lease already
	// expired; cleanup paths must never fail on it.
	Release(ctx context.Context, key, token string) error

	// WithLock runs fn under the lock, bounding fn's context by the lease.
	WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{client: client}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return "", fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryEvery):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) Release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func (l *redisLocker) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, key, wait, lease)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Release(ctx, key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, lease)
	defer cancel()

	return fn(lockCtx)
}
