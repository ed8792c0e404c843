package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const txColumns = `id, buyer_id, dataset_id, tx_ref, status, checksum, ratings, created_at, verified_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new purchase. A reused ledger reference yields ports.ErrDuplicateReference.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	ratings, err := encodeRatings(t.Ratings)
	if err != nil {
		return err
	}

	query := `INSERT INTO transactions (` + txColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.pool.Exec(ctx, query,
		t.ID, t.BuyerID, t.DatasetID, t.TxRef, t.Status, t.Checksum, ratings, t.CreatedAt, t.VerifiedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// ListByBuyerAndStatus returns the buyer's purchases in one status, newest first.
func (r *TransactionRepo) ListByBuyerAndStatus(ctx context.Context, buyerID uuid.UUID, status domain.TransactionStatus) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE buyer_id = $1 AND status = $2 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, buyerID, status)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// FindByBuyerDatasetStatus returns the most recent matching purchase, or nil.
func (r *TransactionRepo) FindByBuyerDatasetStatus(ctx context.Context, buyerID, datasetID uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE buyer_id = $1 AND dataset_id = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1`
	return scanTransaction(r.pool.QueryRow(ctx, query, buyerID, datasetID, status))
}

// CompareAndSetStatus performs a conditional status transition.
func (r *TransactionRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus, verifiedAt time.Time) (bool, error) {
	query := `UPDATE transactions SET status = $1, verified_at = $2 WHERE id = $3 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, to, verifiedAt, id, from)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordRating writes the rating and folds its mean into the dataset in one
// database transaction. The dataset row lock serialises concurrent folds.
func (r *TransactionRepo) RecordRating(ctx context.Context, txID, datasetID uuid.UUID, ratings domain.Ratings) (bool, error) {
	encoded, err := encodeRatings(&ratings)
	if err != nil {
		return false, err
	}

	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin rating transaction: %w", err)
	}

	tag, err := dbTx.Exec(ctx,
		`UPDATE transactions SET ratings = $1 WHERE id = $2 AND status = $3 AND ratings IS NULL`,
		encoded, txID, domain.TransactionStatusSuccess,
	)
	if err != nil {
		_ = dbTx.Rollback(ctx)
		return false, fmt.Errorf("store ratings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = dbTx.Rollback(ctx)
		return false, nil
	}

	tag, err = dbTx.Exec(ctx,
		`UPDATE datasets SET
			average_rating = (average_rating * rating_count + $1) / (rating_count + 1),
			rating_count = rating_count + 1
		WHERE id = $2`,
		ratings.Mean(), datasetID,
	)
	if err != nil {
		_ = dbTx.Rollback(ctx)
		return false, fmt.Errorf("fold dataset rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = dbTx.Rollback(ctx)
		return false, fmt.Errorf("dataset not found: %s", datasetID)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit rating: %w", err)
	}
	return true, nil
}

// CountByStatus returns the number of transactions in each status.
func (r *TransactionRepo) CountByStatus(ctx context.Context) (map[domain.TransactionStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TransactionStatus]int64)
	for rows.Next() {
		var status domain.TransactionStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func encodeRatings(r *domain.Ratings) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode ratings: %w", err)
	}
	return b, nil
}

// scanTransaction scans a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var ratings []byte
	err := row.Scan(
		&t.ID, &t.BuyerID, &t.DatasetID, &t.TxRef, &t.Status, &t.Checksum,
		&ratings, &t.CreatedAt, &t.VerifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if len(ratings) > 0 {
		t.Ratings = &domain.Ratings{}
		if err := json.Unmarshal(ratings, t.Ratings); err != nil {
			return nil, fmt.Errorf("decode ratings: %w", err)
		}
	}
	return t, nil
}
