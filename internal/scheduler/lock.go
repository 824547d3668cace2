package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker enforces the "at most one instance" requirement of the Proactive
// Scheduler (spec §4.6). A process holds the lock for its entire lifetime,
// renewing before LockTTL expires.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// NoopLocker always acquires immediately. Used when no RedisAddr is
// configured (single deployed instance trusted to be the only one) and in
// tests.
type NoopLocker struct{}

func (NoopLocker) TryAcquire(ctx context.Context) (bool, error) { return true, nil }
func (NoopLocker) Renew(ctx context.Context) error              { return nil }
func (NoopLocker) Release(ctx context.Context) error            { return nil }

// RedisLocker is a SETNX-based leader lock: whichever instance sets the key
// first holds it until it releases or lets the TTL lapse, at which point
// another instance may acquire it.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisLocker constructs a RedisLocker. token uniquely identifies this
// process's hold on the lock so Renew/Release never touch a lock some other
// instance acquired after this one's lease lapsed.
func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

func (l *RedisLocker) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (l *RedisLocker) Renew(ctx context.Context) error {
	current, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		// Lock lapsed before we renewed; try to reclaim it under the same token.
		_, err = l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
		return err
	}
	if err != nil {
		return err
	}
	if current != l.token {
		return ErrLockLost
	}
	return l.client.Expire(ctx, l.key, l.ttl).Err()
}

func (l *RedisLocker) Release(ctx context.Context) error {
	current, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if current != l.token {
		return nil
	}
	return l.client.Del(ctx, l.key).Err()
}
