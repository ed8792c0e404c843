package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"datamarket/internal/core/domain"
)

// ErrFileNotFound is returned by FileStore when nothing exists at a path.
var ErrFileNotFound = errors.New("file not found")

// ErrLedgerUnavailable wraps every transport or non-2xx failure from the
// ledger so callers never mistake an outage for an invalid transaction.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// NonceStore holds the single outstanding challenge nonce per user.
type NonceStore interface {
	// Swap stores nonce for userID with ttl and returns the value it replaced
	// ("" if none).
	Swap(ctx context.Context, userID string, nonce string, ttl time.Duration) (string, error)
	// Consume atomically reads and deletes the nonce. Returns "" if none is outstanding.
	Consume(ctx context.Context, userID string) (string, error)
}

// RateLimitStore counts requests in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// FileStore gives read access to uploaded files.
type FileStore interface {
	// Open returns a reader over the file at path and its size. Callers must close it.
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// LedgerClient queries the external ledger. Failures wrap ErrLedgerUnavailable.
type LedgerClient interface {
	// GetTransaction returns nil, nil if the ledger does not know the reference.
	GetTransaction(ctx context.Context, ref string) (*domain.LedgerTransaction, error)
	GetMetadata(ctx context.Context, ref string) ([]domain.MetadataEntry, error)
}
