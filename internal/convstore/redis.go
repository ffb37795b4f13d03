package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "casebot:conv:"

// RedisStore keeps conversation state in Redis, one JSON value per
// (userId, flowKind). Expiry is delegated to Redis key TTLs, so
// SweepExpired only refreshes the TTL contract and reports nothing to
// remove.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(userID, flowKind string) string {
	return redisKeyPrefix + stateKey(userID, flowKind)
}

// Put stores a state with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, st State) error {
	st.UpdatedAt = time.Now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding conversation state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(st.UserID, st.FlowKind), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing conversation state: %w", err)
	}
	return nil
}

// Get returns the state for (userID, flowKind) if present and unexpired.
func (s *RedisStore) Get(ctx context.Context, userID, flowKind string) (State, bool, error) {
	data, err := s.client.Get(ctx, s.key(userID, flowKind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("reading conversation state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("parsing conversation state: %w", err)
	}
	return st, true, nil
}

// Delete removes the state if present.
func (s *RedisStore) Delete(ctx context.Context, userID, flowKind string) error {
	if err := s.client.Del(ctx, s.key(userID, flowKind)).Err(); err != nil {
		return fmt.Errorf("deleting conversation state: %w", err)
	}
	return nil
}

// Take atomically reads and deletes the state via GETDEL.
func (s *RedisStore) Take(ctx context.Context, userID, flowKind string) (State, bool, error) {
	data, err := s.client.GetDel(ctx, s.key(userID, flowKind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("taking conversation state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("parsing conversation state: %w", err)
	}
	return st, true, nil
}

// SweepExpired is a no-op for Redis: key TTLs expire entries server-side.
func (s *RedisStore) SweepExpired(context.Context, time.Duration) (int, error) {
	return 0, nil
}
