package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/internal/metrics"
	"datamarket/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// IntegrityServiceImpl implements ports.IntegrityService.
type IntegrityServiceImpl struct {
	txRepo      ports.TransactionRepository
	datasetRepo ports.DatasetRepository
	ledger      ports.LedgerClient
	files       ports.FileStore
	metrics     *metrics.Recorder
	layout      MetadataLayout
	log         zerolog.Logger
}

// NewIntegrityService creates a new IntegrityServiceImpl.
func NewIntegrityService(
	txRepo ports.TransactionRepository,
	datasetRepo ports.DatasetRepository,
	ledger ports.LedgerClient,
	files ports.FileStore,
	rec *metrics.Recorder,
	layout MetadataLayout,
	log zerolog.Logger,
) *IntegrityServiceImpl {
	return &IntegrityServiceImpl{
		txRepo:      txRepo,
		datasetRepo: datasetRepo,
		ledger:      ledger,
		files:       files,
		metrics:     rec,
		layout:      layout,
		log:         log,
	}
}

// ComputeChecksum returns the lowercase hex SHA-256 of everything read from r.
func (s *IntegrityServiceImpl) ComputeChecksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyAgainstLedger re-hashes the dataset file and compares it with the
// checksum anchored in the purchase's ledger metadata. A false LedgerMatch is
// reported, not returned as an error.
func (s *IntegrityServiceImpl) VerifyAgainstLedger(ctx context.Context, buyerID, txID uuid.UUID) (*domain.IntegrityReport, error) {
	tx, err := loadOwnedTransaction(ctx, s.txRepo, buyerID, txID)
	if err != nil {
		return nil, err
	}
	ds, err := s.datasetRepo.GetByID(ctx, tx.DatasetID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find dataset: %w", err))
	}
	if ds == nil {
		return nil, apperror.ErrNotFound("dataset")
	}

	// Neither lookup cancels the other, so a missing file is reported as
	// such even when the ledger is also failing.
	var (
		computed  string
		entries   []domain.MetadataEntry
		fileErr   error
		ledgerErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		computed, fileErr = s.hashFile(ctx, ds.FilePath)
		return nil
	})
	g.Go(func() error {
		entries, ledgerErr = s.ledger.GetMetadata(ctx, tx.TxRef)
		return nil
	})
	_ = g.Wait()

	if fileErr != nil {
		s.metrics.IntegrityCheck("error")
		var appErr *apperror.AppError
		if errors.As(fileErr, &appErr) {
			return nil, appErr
		}
		return nil, apperror.InternalError(fileErr)
	}
	if ledgerErr != nil {
		s.metrics.IntegrityCheck("error")
		return nil, apperror.ErrLedgerUnavailable(ledgerErr)
	}

	anchored, ok := s.layout.Checksum(entries)
	if !ok {
		s.metrics.IntegrityCheck("no_checksum")
		return nil, apperror.ErrLedgerChecksumMissing()
	}

	report := &domain.IntegrityReport{
		Computed:      computed,
		Ledger:        anchored,
		Snapshot:      tx.Checksum,
		LedgerMatch:   subtle.ConstantTimeCompare([]byte(computed), []byte(anchored)) == 1,
		SnapshotMatch: computed == tx.Checksum,
	}

	logEvent := s.log.Info()
	outcome := "match"
	if !report.LedgerMatch {
		logEvent = s.log.Warn()
		outcome = "mismatch"
	}
	if !report.SnapshotMatch {
		// The stored file no longer hashes to its checksum at time of sale.
		logEvent = s.log.Error()
	}
	logEvent.
		Str("tx_id", tx.ID.String()).
		Str("dataset_id", ds.ID.String()).
		Str("tx_ref", tx.TxRef).
		Bool("ledger_match", report.LedgerMatch).
		Bool("snapshot_match", report.SnapshotMatch).
		Msg("integrity check")
	s.metrics.IntegrityCheck(outcome)

	return report, nil
}

// hashFile streams the file through SHA-256, closing it on every path.
func (s *IntegrityServiceImpl) hashFile(ctx context.Context, path string) (string, error) {
	f, _, err := s.files.Open(ctx, path)
	if err != nil {
		if errors.Is(err, ports.ErrFileNotFound) {
			return "", apperror.ErrFileMissing()
		}
		return "", fmt.Errorf("open dataset file: %w", err)
	}
	defer f.Close()

	sum, err := s.ComputeChecksum(f)
	if err != nil {
		return "", fmt.Errorf("hash dataset file: %w", err)
	}
	return sum, nil
}
