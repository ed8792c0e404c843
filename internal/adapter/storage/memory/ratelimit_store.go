package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"datamarket/internal/core/ports"
)

// RateLimitStore is a fixed-window counter kept in process. Stale windows
// are dropped whenever a key moves to a new one.
type RateLimitStore struct {
	mu      sync.Mutex
	windows map[string]rateWindow
	now     func() time.Time
}

type rateWindow struct {
	id    int64
	count int64
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{windows: make(map[string]rateWindow), now: time.Now}
}

func (s *RateLimitStore) Allow(_ context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	secs := int64(window.Seconds())
	if secs <= 0 {
		return nil, fmt.Errorf("rate limit window must be at least one second, got %s", window)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.now().Unix() / secs
	w := s.windows[key]
	if w.id != id {
		w = rateWindow{id: id}
	}
	w.count++
	s.windows[key] = w

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (id + 1) * secs,
	}, nil
}
