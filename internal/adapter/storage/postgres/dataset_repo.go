package postgres

import (
	"context"
	"errors"
	"fmt"

	"datamarket/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DatasetRepo implements ports.DatasetRepository.
type DatasetRepo struct {
	pool Pool
}

// NewDatasetRepo creates a new DatasetRepo.
func NewDatasetRepo(pool Pool) *DatasetRepo {
	return &DatasetRepo{pool: pool}
}

// Create inserts a new dataset.
func (r *DatasetRepo) Create(ctx context.Context, d *domain.Dataset) error {
	query := `INSERT INTO datasets (id, owner_id, name, description, checksum, file_path, file_size,
		record_count, price, average_rating, rating_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.OwnerID, d.Name, d.Description, d.Checksum, d.FilePath, d.FileSize,
		d.RecordCount, d.Price, d.AverageRating, d.RatingCount, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// GetByID fetches a dataset by UUID.
func (r *DatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dataset, error) {
	query := `SELECT id, owner_id, name, description, checksum, file_path, file_size,
		record_count, price, average_rating, rating_count, created_at
		FROM datasets WHERE id = $1`

	d := &domain.Dataset{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.OwnerID, &d.Name, &d.Description, &d.Checksum, &d.FilePath, &d.FileSize,
		&d.RecordCount, &d.Price, &d.AverageRating, &d.RatingCount, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dataset by id: %w", err)
	}
	return d, nil
}
