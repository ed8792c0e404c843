package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NonceStore implements ports.NonceStore with one expiring key per user.
type NonceStore struct {
	client *goredis.Client
	prefix string
}

// NewNonceStore creates a new Redis-backed nonce store.
func NewNonceStore(client *goredis.Client) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: "nonce:",
	}
}

// Swap stores nonce for userID and returns the value it replaced ("" if none).
func (s *NonceStore) Swap(ctx context.Context, userID string, nonce string, ttl time.Duration) (string, error) {
	prev, err := s.client.SetArgs(ctx, s.prefix+userID, nonce, goredis.SetArgs{
		Get: true,
		TTL: ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis nonce swap: %w", err)
	}
	return prev, nil
}

// Consume atomically reads and deletes the outstanding nonce ("" if none).
func (s *NonceStore) Consume(ctx context.Context, userID string) (string, error) {
	nonce, err := s.client.GetDel(ctx, s.prefix+userID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis nonce consume: %w", err)
	}
	return nonce, nil
}
