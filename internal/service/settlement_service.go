package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/internal/metrics"
	"datamarket/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Settlement reasons, used as metric labels and log fields.
const (
	reasonConfirmed = "confirmed"
	reasonTimeout   = "timeout"
)

// evidenceTimeout bounds the metadata lookup made after a confirmed settlement.
const evidenceTimeout = 2 * time.Second

// SettlementServiceImpl implements ports.SettlementService.
// Transactions only move Pending -> Success or Pending -> Failed, and every
// move is a compare-and-set so concurrent status polls converge.
type SettlementServiceImpl struct {
	txRepo         ports.TransactionRepository
	datasetRepo    ports.DatasetRepository
	ledger         ports.LedgerClient
	files          ports.FileStore
	metrics        *metrics.Recorder
	pendingTimeout time.Duration
	layout         MetadataLayout
	log            zerolog.Logger
	now            func() time.Time
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	txRepo ports.TransactionRepository,
	datasetRepo ports.DatasetRepository,
	ledger ports.LedgerClient,
	files ports.FileStore,
	rec *metrics.Recorder,
	pendingTimeout time.Duration,
	layout MetadataLayout,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		txRepo:         txRepo,
		datasetRepo:    datasetRepo,
		ledger:         ledger,
		files:          files,
		metrics:        rec,
		pendingTimeout: pendingTimeout,
		layout:         layout,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Initiate records a Pending purchase, snapshotting the dataset checksum.
func (s *SettlementServiceImpl) Initiate(ctx context.Context, buyerID, datasetID uuid.UUID, txRef string) (*domain.Transaction, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, apperror.Validation("tx_ref is required")
	}

	dataset, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find dataset: %w", err))
	}
	if dataset == nil {
		return nil, apperror.ErrNotFound("dataset")
	}

	tx := &domain.Transaction{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		DatasetID: dataset.ID,
		TxRef:     txRef,
		Status:    domain.TransactionStatusPending,
		Checksum:  dataset.Checksum,
		CreatedAt: s.now(),
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, ports.ErrDuplicateReference) {
			return nil, apperror.ErrDuplicateReference()
		}
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("dataset_id", tx.DatasetID.String()).
		Str("tx_ref", tx.TxRef).
		Msg("purchase initiated")

	return tx, nil
}

// CheckStatus returns the transaction, first trying to settle it if Pending.
// Terminal transactions are returned as stored without contacting the ledger.
func (s *SettlementServiceImpl) CheckStatus(ctx context.Context, buyerID, txID uuid.UUID) (*domain.Transaction, error) {
	tx, err := loadOwnedTransaction(ctx, s.txRepo, buyerID, txID)
	if err != nil {
		return nil, err
	}
	if tx.IsTerminal() {
		return tx, nil
	}

	now := s.now()
	if tx.Age(now) > s.pendingTimeout {
		failed, _, err := s.transition(ctx, tx, domain.TransactionStatusFailed, reasonTimeout, now)
		return failed, err
	}

	lt, err := s.ledger.GetTransaction(ctx, tx.TxRef)
	if err != nil {
		// An outage must not fail a legitimate purchase; the timeout bounds the wait.
		s.log.Warn().Err(err).
			Str("tx_id", tx.ID.String()).
			Str("tx_ref", tx.TxRef).
			Msg("ledger lookup failed, transaction stays pending")
		return tx, nil
	}
	if lt == nil || !lt.Settled() {
		s.log.Debug().
			Str("tx_id", tx.ID.String()).
			Str("tx_ref", tx.TxRef).
			Bool("known", lt != nil).
			Msg("transaction not yet settled on ledger")
		return tx, nil
	}

	settled, won, err := s.transition(ctx, tx, domain.TransactionStatusSuccess, reasonConfirmed, now)
	if err != nil {
		return nil, err
	}
	if won {
		s.recordChecksumEvidence(ctx, settled, lt)
	}
	return settled, nil
}

// transition moves tx out of Pending. The bool reports whether this call
// performed the write.
func (s *SettlementServiceImpl) transition(ctx context.Context, tx *domain.Transaction, to domain.TransactionStatus, reason string, at time.Time) (*domain.Transaction, bool, error) {
	ok, err := s.txRepo.CompareAndSetStatus(ctx, tx.ID, domain.TransactionStatusPending, to, at)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("update transaction status: %w", err))
	}
	if !ok {
		// A concurrent check got there first; report what it stored.
		current, err := s.txRepo.GetByID(ctx, tx.ID)
		if err != nil {
			return nil, false, apperror.InternalError(fmt.Errorf("reload transaction: %w", err))
		}
		if current == nil {
			return nil, false, apperror.ErrNotFound("transaction")
		}
		return current, false, nil
	}

	tx.Status = to
	tx.VerifiedAt = &at

	s.metrics.Settlement(string(to), reason)
	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("dataset_id", tx.DatasetID.String()).
		Str("tx_ref", tx.TxRef).
		Str("status", string(to)).
		Str("reason", reason).
		Dur("age", at.Sub(tx.CreatedAt)).
		Msg("transaction settled")

	return tx, true, nil
}

// recordChecksumEvidence notes whether the ledger metadata carries the
// dataset checksum. It runs after the status write and never affects it.
func (s *SettlementServiceImpl) recordChecksumEvidence(ctx context.Context, tx *domain.Transaction, lt *domain.LedgerTransaction) {
	entries := lt.Metadata
	if entries == nil {
		mdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), evidenceTimeout)
		defer cancel()

		var err error
		entries, err = s.ledger.GetMetadata(mdCtx, tx.TxRef)
		if err != nil {
			s.metrics.ChecksumAnchored("unknown")
			s.log.Warn().Err(err).Str("tx_id", tx.ID.String()).Msg("could not fetch settlement metadata")
			return
		}
	}

	sum, found := s.layout.Checksum(entries)
	anchored := found && sum == tx.Checksum
	s.metrics.ChecksumAnchored(fmt.Sprintf("%t", anchored))
	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Bool("checksum_anchored", anchored).
		Msg("settlement evidence")
}

// ListPurchased returns the buyer's settled purchases with their datasets.
func (s *SettlementServiceImpl) ListPurchased(ctx context.Context, buyerID uuid.UUID) ([]ports.Purchase, error) {
	txs, err := s.txRepo.ListByBuyerAndStatus(ctx, buyerID, domain.TransactionStatusSuccess)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list purchases: %w", err))
	}

	purchases := make([]ports.Purchase, 0, len(txs))
	for _, tx := range txs {
		ds, err := s.datasetRepo.GetByID(ctx, tx.DatasetID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("find dataset: %w", err))
		}
		if ds == nil {
			s.log.Error().Str("tx_id", tx.ID.String()).Str("dataset_id", tx.DatasetID.String()).Msg("purchase references missing dataset")
			continue
		}
		purchases = append(purchases, ports.Purchase{Transaction: tx, Dataset: *ds})
	}
	return purchases, nil
}

func (s *SettlementServiceImpl) ListPending(ctx context.Context, buyerID uuid.UUID) ([]domain.Transaction, error) {
	txs, err := s.txRepo.ListByBuyerAndStatus(ctx, buyerID, domain.TransactionStatusPending)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list pending: %w", err))
	}
	return txs, nil
}

// OpenDownload opens a dataset file for a buyer holding a settled purchase of it.
func (s *SettlementServiceImpl) OpenDownload(ctx context.Context, buyerID, datasetID uuid.UUID) (*ports.Download, error) {
	tx, err := s.txRepo.FindByBuyerDatasetStatus(ctx, buyerID, datasetID, domain.TransactionStatusSuccess)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find purchase: %w", err))
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("purchase")
	}

	ds, err := s.datasetRepo.GetByID(ctx, datasetID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find dataset: %w", err))
	}
	if ds == nil {
		return nil, apperror.ErrNotFound("dataset")
	}

	body, size, err := s.files.Open(ctx, ds.FilePath)
	if err != nil {
		if errors.Is(err, ports.ErrFileNotFound) {
			return nil, apperror.ErrFileMissing()
		}
		return nil, apperror.InternalError(fmt.Errorf("open dataset file: %w", err))
	}

	return &ports.Download{Dataset: *ds, Body: body, Size: size}, nil
}

// loadOwnedTransaction loads a transaction and checks it belongs to buyerID.
func loadOwnedTransaction(ctx context.Context, repo ports.TransactionRepository, buyerID, txID uuid.UUID) (*domain.Transaction, error) {
	tx, err := repo.GetByID(ctx, txID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find transaction: %w", err))
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if tx.BuyerID != buyerID {
		return nil, apperror.ErrNotTransactionOwner()
	}
	return tx, nil
}
