// Package distlock provides a Redis-backed mutual exclusion primitive for
// work that must run on at most one replica at a time, like the error
// surveillance pass. The lock carries a random ownership token so a release
// after TTL expiry can never drop a lock another holder re-acquired.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the distributed-lock capability. Implementations are not safe for
// concurrent use; each goroutine takes its own instance.
type Lock interface {
	// Acquire tries to take the lock without blocking. The boolean reports
	// whether this holder got it.
	Acquire(ctx context.Context) (bool, error)

	// Release drops the lock if this holder still owns it.
	Release(ctx context.Context) error
}

// RedisLock implements Lock with SET NX plus a TTL. The TTL bounds how long
// a crashed holder can starve the others.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock builds a lock on the given key.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    "casebot:lock:" + key,
		token:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lock without blocking.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	return ok, nil
}

// releaseScript deletes the key only while this holder's token is still in
// it; a check-then-delete would race with TTL expiry.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release drops the lock if this holder still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}
