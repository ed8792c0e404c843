package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dataset is a file offered for sale. Checksum, FilePath and Price are
// fixed at upload time; only the rating aggregate changes afterwards.
type Dataset struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Checksum      string    `json:"checksum"` // hex sha256 of the file bytes
	FilePath      string    `json:"-"`
	FileSize      int64     `json:"file_size"`
	RecordCount   int64     `json:"record_count"`
	Price         int64     `json:"price"` // lovelace
	AverageRating float64   `json:"average_rating"`
	RatingCount   int64     `json:"rating_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// FoldRating returns the running mean after adding one more contribution.
func FoldRating(average float64, count int64, score float64) float64 {
	return (average*float64(count) + score) / float64(count+1)
}
