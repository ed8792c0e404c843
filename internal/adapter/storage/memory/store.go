// Package memory keeps every record in process. It honours the same atomic
// contracts as the postgres repositories and backs the "memory" storage
// driver and end-to-end tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"

	"github.com/google/uuid"
)

// Store holds all records behind one lock so multi-record updates are atomic.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]domain.User
	datasets map[uuid.UUID]domain.Dataset
	txs      map[uuid.UUID]domain.Transaction
	audit    []domain.AuditLog
}

func New() *Store {
	return &Store{
		users:    make(map[uuid.UUID]domain.User),
		datasets: make(map[uuid.UUID]domain.Dataset),
		txs:      make(map[uuid.UUID]domain.Transaction),
	}
}

func (s *Store) Users() *UserRepo               { return &UserRepo{s} }
func (s *Store) Datasets() *DatasetRepo         { return &DatasetRepo{s} }
func (s *Store) Transactions() *TransactionRepo { return &TransactionRepo{s} }
func (s *Store) Audit() *AuditRepo              { return &AuditRepo{s} }

// --- Users ---

type UserRepo struct{ s *Store }

func (r *UserRepo) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.WalletAddress == u.WalletAddress {
			return ports.ErrDuplicateWallet
		}
	}
	r.s.users[u.ID] = *u
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepo) GetByWalletAddress(_ context.Context, address string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if u.WalletAddress == address {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Update(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; !ok {
		return ErrNotFound
	}
	r.s.users[u.ID] = *u
	return nil
}

// --- Datasets ---

type DatasetRepo struct{ s *Store }

func (r *DatasetRepo) Create(_ context.Context, d *domain.Dataset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.datasets[d.ID] = *d
	return nil
}

func (r *DatasetRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Dataset, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.datasets[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// --- Transactions ---

type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) Create(_ context.Context, t *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.txs {
		if existing.TxRef == t.TxRef {
			return ports.ErrDuplicateReference
		}
	}
	r.s.txs[t.ID] = cloneTx(*t)
	return nil
}

func (r *TransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.txs[id]
	if !ok {
		return nil, nil
	}
	t = cloneTx(t)
	return &t, nil
}

func (r *TransactionRepo) ListByBuyerAndStatus(_ context.Context, buyerID uuid.UUID, status domain.TransactionStatus) ([]domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.Transaction{}
	for _, t := range r.s.txs {
		if t.BuyerID == buyerID && t.Status == status {
			result = append(result, cloneTx(t))
		}
	}
	// Newest first, like the SQL ORDER BY.
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *TransactionRepo) FindByBuyerDatasetStatus(_ context.Context, buyerID, datasetID uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.txs {
		if t.BuyerID == buyerID && t.DatasetID == datasetID && t.Status == status {
			t = cloneTx(t)
			return &t, nil
		}
	}
	return nil, nil
}

func (r *TransactionRepo) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to domain.TransactionStatus, verifiedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txs[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.VerifiedAt = &verifiedAt
	r.s.txs[id] = t
	return true, nil
}

func (r *TransactionRepo) RecordRating(_ context.Context, txID, datasetID uuid.UUID, ratings domain.Ratings) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txs[txID]
	if !ok || t.Status != domain.TransactionStatusSuccess || t.Ratings != nil {
		return false, nil
	}
	d, ok := r.s.datasets[datasetID]
	if !ok {
		return false, ErrNotFound
	}

	t.Ratings = &ratings
	r.s.txs[txID] = t

	d.AverageRating = domain.FoldRating(d.AverageRating, d.RatingCount, ratings.Mean())
	d.RatingCount++
	r.s.datasets[datasetID] = d
	return true, nil
}

func (r *TransactionRepo) CountByStatus(_ context.Context) (map[domain.TransactionStatus]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[domain.TransactionStatus]int64)
	for _, t := range r.s.txs {
		counts[t.Status]++
	}
	return counts, nil
}

// --- Audit ---

type AuditRepo struct{ s *Store }

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *log)
	return nil
}

// Entries returns a copy of the audit trail.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.AuditLog(nil), r.s.audit...)
}

func cloneTx(t domain.Transaction) domain.Transaction {
	if t.Ratings != nil {
		rt := *t.Ratings
		t.Ratings = &rt
	}
	if t.VerifiedAt != nil {
		v := *t.VerifiedAt
		t.VerifiedAt = &v
	}
	return t
}
