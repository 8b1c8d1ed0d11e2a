package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// NewRedisClient connects to redis at addr and pings it.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// KV is the subset of the redis client the stores below need.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const filtersKeyPrefix = "topology:filters:"

// RedisFilterStore checkpoints topology session filters in redis.
type RedisFilterStore struct {
	kv  KV
	ttl time.Duration
}

func NewRedisFilterStore(kv KV, ttl time.Duration) *RedisFilterStore {
	return &RedisFilterStore{kv: kv, ttl: ttl}
}

func (s *RedisFilterStore) SaveFilters(ctx context.Context, sessionID string, filters models.TopologyFilters) error {
	payload, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}
	return s.kv.Set(ctx, filtersKeyPrefix+sessionID, payload, s.ttl).Err()
}

// LoadFilters returns the checkpoint for sessionID. The bool is false when
// there is none.
func (s *RedisFilterStore) LoadFilters(ctx context.Context, sessionID string) (models.TopologyFilters, bool, error) {
	raw, err := s.kv.Get(ctx, filtersKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.TopologyFilters{}, false, nil
	}
	if err != nil {
		return models.TopologyFilters{}, false, err
	}
	var filters models.TopologyFilters
	if err := json.Unmarshal(raw, &filters); err != nil {
		return models.TopologyFilters{}, false, fmt.Errorf("decode filters: %w", err)
	}
	return filters, true, nil
}

const refreshKeyPrefix = "auth:refresh:"

// RedisTokenStore maps refresh tokens to usernames.
type RedisTokenStore struct {
	kv KV
}

func NewRedisTokenStore(kv KV) *RedisTokenStore {
	return &RedisTokenStore{kv: kv}
}

func (s *RedisTokenStore) Save(ctx context.Context, token, username string, ttl time.Duration) error {
	return s.kv.Set(ctx, refreshKeyPrefix+token, username, ttl).Err()
}

// Lookup returns the username for token, or "" when it is unknown or expired.
func (s *RedisTokenStore) Lookup(ctx context.Context, token string) (string, error) {
	username, err := s.kv.Get(ctx, refreshKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return username, err
}
