package memory

import (
	"context"
	"sync"
	"time"
)

type nonceEntry struct {
	value     string
	expiresAt time.Time
}

// NonceStore implements ports.NonceStore in process.
type NonceStore struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	now     func() time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{entries: make(map[string]nonceEntry), now: time.Now}
}

func (s *NonceStore) Swap(_ context.Context, userID string, nonce string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.live(userID)
	s.entries[userID] = nonceEntry{value: nonce, expiresAt: s.now().Add(ttl)}
	return prev, nil
}

func (s *NonceStore) Consume(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.live(userID)
	delete(s.entries, userID)
	return v, nil
}

// live returns the unexpired nonce for userID. Callers hold mu.
func (s *NonceStore) live(userID string) string {
	e, ok := s.entries[userID]
	if !ok || !s.now().Before(e.expiresAt) {
		return ""
	}
	return e.value
}
