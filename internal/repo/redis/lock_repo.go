package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

const (
	defaultLockTTL       = 15 * time.Second
	defaultLockRetryWait = 50 * time.Millisecond
)

// unlockScript releases the lock only if the caller still holds it, so a lock
// that expired and was re-acquired elsewhere is never deleted by the old owner.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRepo is a small SET NX mutex. Resolution triggers for the same window
// and concurrent submits for the same user/window serialize through it; the
// database markers stay the correctness backstop if a lock expires mid-flight.
type LockRepo struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewLockRepo(client *goredis.Client) *LockRepo {
	return &LockRepo{client: client, ttl: defaultLockTTL}
}

// Acquire blocks until the lock is taken or ctx is done. It returns a token
// that must be passed back to Release.
func (r *LockRepo) Acquire(ctx context.Context, key string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return "", fmt.Errorf("lock key is required")
	}

	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(defaultLockRetryWait):
		}
	}
}

// TryAcquire is the non-blocking variant used by the sweeper: a window locked
// by another trigger is simply skipped this tick.
func (r *LockRepo) TryAcquire(ctx context.Context, key string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return "", fmt.Errorf("lock key is required")
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("try acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrLockNotAcquired
	}

	return token, nil
}

func (r *LockRepo) Release(ctx context.Context, key, token string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" || token == "" {
		return fmt.Errorf("lock key and token are required")
	}

	if err := unlockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}

	return nil
}
