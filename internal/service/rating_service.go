package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/internal/metrics"
	"datamarket/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RatingServiceImpl implements ports.RatingService.
type RatingServiceImpl struct {
	txRepo  ports.TransactionRepository
	ledger  ports.LedgerClient
	metrics *metrics.Recorder
	log     zerolog.Logger
}

// NewRatingService creates a new RatingServiceImpl.
func NewRatingService(txRepo ports.TransactionRepository, ledger ports.LedgerClient, rec *metrics.Recorder, log zerolog.Logger) *RatingServiceImpl {
	return &RatingServiceImpl{
		txRepo:  txRepo,
		ledger:  ledger,
		metrics: rec,
		log:     log,
	}
}

// SubmitRating stores the buyer's rating once and folds it into the
// dataset's running average in the same atomic step.
func (s *RatingServiceImpl) SubmitRating(ctx context.Context, buyerID, txID uuid.UUID, ratings domain.Ratings) (*domain.Transaction, error) {
	if err := ratings.Validate(); err != nil {
		return nil, apperror.Validation(err.Error())
	}

	tx, err := loadOwnedTransaction(ctx, s.txRepo, buyerID, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.TransactionStatusSuccess {
		return nil, apperror.ErrNotSettled()
	}
	if tx.IsRated() {
		s.metrics.Rating("submit", "duplicate")
		return nil, apperror.ErrAlreadyRated()
	}

	recorded, err := s.txRepo.RecordRating(ctx, tx.ID, tx.DatasetID, ratings)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record rating: %w", err))
	}
	if !recorded {
		// Another submission for this transaction won the race.
		s.metrics.Rating("submit", "duplicate")
		return nil, apperror.ErrAlreadyRated()
	}

	tx.Ratings = &ratings
	s.metrics.Rating("submit", "accepted")
	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("dataset_id", tx.DatasetID.String()).
		Float64("score", ratings.Mean()).
		Msg("rating recorded")

	return tx, nil
}

// VerifyAgainstLedger reports whether any metadata entry on the purchase's
// ledger transaction is structurally equal to the stored rating.
func (s *RatingServiceImpl) VerifyAgainstLedger(ctx context.Context, buyerID, txID uuid.UUID) (bool, error) {
	tx, err := loadOwnedTransaction(ctx, s.txRepo, buyerID, txID)
	if err != nil {
		return false, err
	}
	if tx.Status != domain.TransactionStatusSuccess {
		return false, apperror.ErrNotSettled()
	}
	if !tx.IsRated() {
		return false, apperror.ErrNotRated()
	}

	entries, err := s.ledger.GetMetadata(ctx, tx.TxRef)
	if err != nil {
		s.metrics.Rating("verify", "error")
		return false, apperror.ErrLedgerUnavailable(err)
	}

	expected, err := asJSONValue(tx.Ratings)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("encode ratings: %w", err))
	}

	for _, e := range entries {
		var got interface{}
		if err := json.Unmarshal(e.Content, &got); err != nil {
			continue
		}
		if reflect.DeepEqual(expected, got) {
			s.metrics.Rating("verify", "match")
			return true, nil
		}
	}

	s.metrics.Rating("verify", "no_match")
	s.log.Info().Str("tx_id", tx.ID.String()).Int("entries", len(entries)).Msg("rating not found in ledger metadata")
	return false, nil
}

// asJSONValue round-trips v through JSON so it compares like decoded metadata.
func asJSONValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
