package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus represents the lifecycle state of a purchase.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// Rating bounds, inclusive.
const (
	MinRating = 1
	MaxRating = 5
)

// Ratings is the five-dimension score a buyer leaves on a settled purchase.
type Ratings struct {
	Relevance     int `json:"relevance"`
	Quality       int `json:"quality"`
	Size          int `json:"size"`
	Accessibility int `json:"accessibility"`
	Bias          int `json:"bias"`
}

func (r Ratings) values() [5]int {
	return [5]int{r.Relevance, r.Quality, r.Size, r.Accessibility, r.Bias}
}

// Validate checks that every dimension is within [MinRating, MaxRating].
func (r Ratings) Validate() error {
	names := [5]string{"relevance", "quality", "size", "accessibility", "bias"}
	for i, v := range r.values() {
		if v < MinRating || v > MaxRating {
			return fmt.Errorf("%s must be between %d and %d", names[i], MinRating, MaxRating)
		}
	}
	return nil
}

// Mean returns the unweighted mean of the five dimensions.
func (r Ratings) Mean() float64 {
	sum := 0
	for _, v := range r.values() {
		sum += v
	}
	return float64(sum) / 5
}

// Transaction is one purchase attempt. Rows are never deleted.
type Transaction struct {
	ID         uuid.UUID         `json:"id"`
	BuyerID    uuid.UUID         `json:"buyer_id"`
	DatasetID  uuid.UUID         `json:"dataset_id"`
	TxRef      string            `json:"tx_ref"` // ledger transaction hash, unique
	Status     TransactionStatus `json:"status"`
	Checksum   string            `json:"checksum"` // dataset checksum at time of sale
	Ratings    *Ratings          `json:"ratings,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	VerifiedAt *time.Time        `json:"verified_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusSuccess ||
		t.Status == TransactionStatusFailed
}

// IsRated returns true once a rating has been recorded.
func (t *Transaction) IsRated() bool {
	return t.Ratings != nil
}

// Age returns how long the transaction has been open at now.
func (t *Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}
