package ports

import (
	"context"
	"errors"
	"time"

	"datamarket/internal/core/domain"

	"github.com/google/uuid"
)

// ErrDuplicateReference is returned by TransactionRepository.Create when
// another transaction already claims the same ledger reference.
var ErrDuplicateReference = errors.New("duplicate transaction reference")

// ErrDuplicateWallet is returned by UserRepository.Create when the wallet
// address is already registered.
var ErrDuplicateWallet = errors.New("duplicate wallet address")

// UserRepository defines persistence operations for users.
// Lookups return nil, nil when the user does not exist.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByWalletAddress(ctx context.Context, address string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

// DatasetRepository defines persistence operations for datasets.
type DatasetRepository interface {
	Create(ctx context.Context, dataset *domain.Dataset) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)
}

// TransactionRepository defines persistence operations for purchases.
// Status and rating mutations are conditional so concurrent callers converge.
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListByBuyerAndStatus(ctx context.Context, buyerID uuid.UUID, status domain.TransactionStatus) ([]domain.Transaction, error)
	FindByBuyerDatasetStatus(ctx context.Context, buyerID, datasetID uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, error)

	// CompareAndSetStatus moves a transaction from `from` to `to` and stamps
	// verified_at. Returns false if the row was no longer in `from`.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus, verifiedAt time.Time) (bool, error)

	// RecordRating stores ratings on a settled, unrated transaction and folds
	// their mean into the dataset aggregate atomically. Returns false if the
	// transaction was already rated or is not settled.
	RecordRating(ctx context.Context, txID, datasetID uuid.UUID, ratings domain.Ratings) (bool, error)

	CountByStatus(ctx context.Context) (map[domain.TransactionStatus]int64, error)
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}
