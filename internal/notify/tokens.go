// README: Device token registry for push delivery, in Redis or in memory.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"rideflow/internal/types"
)

const deviceTokensKey = "notify:device_tokens"

type TokenStore interface {
	SetToken(ctx context.Context, id types.ID, token string) error
	Token(ctx context.Context, id types.ID) (string, error)
	DeleteToken(ctx context.Context, id types.ID) error
}

type RedisTokenStore struct {
	redis *redis.Client
}

func NewRedisTokenStore(redis *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{redis: redis}
}

func (s *RedisTokenStore) SetToken(ctx context.Context, id types.ID, token string) error {
	return s.redis.HSet(ctx, deviceTokensKey, string(id), token).Err()
}

// Token returns ErrNoDevice when the identity never registered a device.
func (s *RedisTokenStore) Token(ctx context.Context, id types.ID) (string, error) {
	token, err := s.redis.HGet(ctx, deviceTokensKey, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoDevice
	}
	return token, err
}

func (s *RedisTokenStore) DeleteToken(ctx context.Context, id types.ID) error {
	return s.redis.HDel(ctx, deviceTokensKey, string(id)).Err()
}

type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[types.ID]string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[types.ID]string)}
}

func (s *MemoryTokenStore) SetToken(_ context.Context, id types.ID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[id] = token
	return nil
}

func (s *MemoryTokenStore) Token(_ context.Context, id types.ID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[id]
	if !ok {
		return "", ErrNoDevice
	}
	return token, nil
}

func (s *MemoryTokenStore) DeleteToken(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}
