package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/internal/core/ports/mocks"
	"datamarket/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type settlementTestDeps struct {
	svc         *SettlementServiceImpl
	txRepo      *mocks.MockTransactionRepository
	datasetRepo *mocks.MockDatasetRepository
	ledger      *mocks.MockLedgerClient
	files       *mocks.MockFileStore
	ctrl        *gomock.Controller
	clock       time.Time
}

func setupSettlementService(t *testing.T) *settlementTestDeps {
	ctrl := gomock.NewController(t)
	d := &settlementTestDeps{
		txRepo:      mocks.NewMockTransactionRepository(ctrl),
		datasetRepo: mocks.NewMockDatasetRepository(ctrl),
		ledger:      mocks.NewMockLedgerClient(ctrl),
		files:       mocks.NewMockFileStore(ctrl),
		ctrl:        ctrl,
		clock:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d.svc = NewSettlementService(
		d.txRepo, d.datasetRepo, d.ledger, d.files, nil,
		10*time.Minute, DefaultMetadataLayout, zerolog.Nop(),
	)
	d.svc.now = func() time.Time { return d.clock }
	return d
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

func checksumMetadata(sum string) []domain.MetadataEntry {
	content, _ := json.Marshal(map[string]string{"checksum": sum})
	return []domain.MetadataEntry{{Label: "1", Content: content}}
}

func pendingTx(buyerID uuid.UUID, ref string, created time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		DatasetID: uuid.New(),
		TxRef:     ref,
		Status:    domain.TransactionStatusPending,
		Checksum:  "abc123",
		CreatedAt: created,
	}
}

// ==================== Initiate ====================

func TestSettlementService_Initiate_SnapshotsChecksum(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	ds := &domain.Dataset{ID: uuid.New(), Checksum: "deadbeef"}

	d.datasetRepo.EXPECT().GetByID(ctx, ds.ID).Return(ds, nil)
	d.txRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, tx *domain.Transaction) error {
		assert.Equal(t, domain.TransactionStatusPending, tx.Status)
		assert.Equal(t, "deadbeef", tx.Checksum)
		assert.Equal(t, "txA1", tx.TxRef)
		assert.Equal(t, buyerID, tx.BuyerID)
		assert.Nil(t, tx.VerifiedAt)
		return nil
	})

	tx, err := d.svc.Initiate(ctx, buyerID, ds.ID, " txA1 ")
	require.NoError(t, err)
	assert.Equal(t, d.clock, tx.CreatedAt)

	// Later changes to the dataset do not reach the transaction.
	ds.Checksum = "changed"
	assert.Equal(t, "deadbeef", tx.Checksum)
}

func TestSettlementService_Initiate_DatasetNotFound(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.datasetRepo.EXPECT().GetByID(ctx, gomock.Any()).Return(nil, nil)

	_, err := d.svc.Initiate(ctx, uuid.New(), uuid.New(), "txA1")
	assertAppError(t, err, "RES_001")
}

func TestSettlementService_Initiate_DuplicateReference(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.datasetRepo.EXPECT().GetByID(ctx, gomock.Any()).Return(&domain.Dataset{ID: uuid.New()}, nil)
	d.txRepo.EXPECT().Create(ctx, gomock.Any()).Return(fmt.Errorf("insert: %w", ports.ErrDuplicateReference))

	_, err := d.svc.Initiate(ctx, uuid.New(), uuid.New(), "txA1")
	assertAppError(t, err, "PUR_001")
}

func TestSettlementService_Initiate_EmptyReference(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Initiate(context.Background(), uuid.New(), uuid.New(), "  ")
	assertAppError(t, err, "VAL_001")

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Message, "tx_ref")
}

// ==================== CheckStatus ====================

func TestSettlementService_CheckStatus_ConfirmedBecomesSuccess(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txA1", d.clock.Add(-2*time.Minute))

	gomock.InOrder(
		d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil),
		d.ledger.EXPECT().GetTransaction(ctx, "txA1").Return(&domain.LedgerTransaction{
			Hash: "txA1", Validated: true, OutputsPresent: true,
		}, nil),
		d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID,
			domain.TransactionStatusPending, domain.TransactionStatusSuccess, d.clock).Return(true, nil),
		d.ledger.EXPECT().GetMetadata(gomock.Any(), "txA1").Return(checksumMetadata("abc123"), nil),
	)

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, got.Status)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, d.clock, *got.VerifiedAt)
}

func TestSettlementService_CheckStatus_MetadataDoesNotGateSuccess(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txC3", d.clock.Add(-time.Minute))

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.ledger.EXPECT().GetTransaction(ctx, "txC3").Return(&domain.LedgerTransaction{
		Validated: true, OutputsPresent: true, Metadata: checksumMetadata("something-else"),
	}, nil)
	d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID, gomock.Any(), domain.TransactionStatusSuccess, gomock.Any()).Return(true, nil)

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, got.Status)
}

func TestSettlementService_CheckStatus_EvidenceFailureKeepsSuccess(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txSlow", d.clock.Add(-time.Minute))

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.ledger.EXPECT().GetTransaction(ctx, "txSlow").Return(&domain.LedgerTransaction{
		Validated: true, OutputsPresent: true,
	}, nil)
	d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID,
		domain.TransactionStatusPending, domain.TransactionStatusSuccess, d.clock).
		DoAndReturn(func(context.Context, uuid.UUID, domain.TransactionStatus, domain.TransactionStatus, time.Time) (bool, error) {
			// The request deadline runs out while the indexer is still slow.
			cancel()
			return true, nil
		})
	d.ledger.EXPECT().GetMetadata(gomock.Any(), "txSlow").
		DoAndReturn(func(mdCtx context.Context, _ string) ([]domain.MetadataEntry, error) {
			assert.NoError(t, mdCtx.Err())
			_, hasDeadline := mdCtx.Deadline()
			assert.True(t, hasDeadline)
			return nil, fmt.Errorf("%w: timeout", ports.ErrLedgerUnavailable)
		})

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, got.Status)
}

func TestSettlementService_CheckStatus_LostRaceSkipsEvidence(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txA1", d.clock.Add(-time.Minute))
	settled := *tx
	settled.Status = domain.TransactionStatusSuccess

	gomock.InOrder(
		d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil),
		d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID, gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil),
		d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(&settled, nil),
	)
	// No metadata in the ledger response and no GetMetadata expectation:
	// the winning check already recorded the evidence.
	d.ledger.EXPECT().GetTransaction(ctx, "txA1").Return(&domain.LedgerTransaction{
		Validated: true, OutputsPresent: true,
	}, nil)

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, got.Status)
}

func TestSettlementService_CheckStatus_TerminalIsIdempotent(t *testing.T) {
	for _, status := range []domain.TransactionStatus{domain.TransactionStatusSuccess, domain.TransactionStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			d := setupSettlementService(t)
			defer d.ctrl.Finish()
			ctx := context.Background()

			buyerID := uuid.New()
			verified := d.clock.Add(-time.Hour)
			tx := pendingTx(buyerID, "txT", d.clock.Add(-2*time.Hour))
			tx.Status = status
			tx.VerifiedAt = &verified

			// No ledger or update expectations: any such call fails the test.
			d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil).Times(2)

			first, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
			require.NoError(t, err)
			second, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
			require.NoError(t, err)
			assert.Equal(t, status, first.Status)
			assert.Equal(t, first.Status, second.Status)
		})
	}
}

func TestSettlementService_CheckStatus_InvalidStaysPendingUntilTimeout(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	created := d.clock
	tx := pendingTx(buyerID, "txB2", created)

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil).Times(2)

	// Nine minutes in: ledger says invalid, still Pending.
	d.clock = created.Add(9 * time.Minute)
	d.ledger.EXPECT().GetTransaction(ctx, "txB2").Return(&domain.LedgerTransaction{Validated: false, OutputsPresent: true}, nil)

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, got.Status)
	assert.Nil(t, got.VerifiedAt)

	// Eleven minutes in: Failed without asking the ledger.
	d.clock = created.Add(11 * time.Minute)
	d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID,
		domain.TransactionStatusPending, domain.TransactionStatusFailed, d.clock).Return(true, nil)

	got, err = d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)
	require.NotNil(t, got.VerifiedAt)
}

func TestSettlementService_CheckStatus_TimeoutBeatsLateConfirmation(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txLate", d.clock.Add(-15*time.Minute))

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID,
		domain.TransactionStatusPending, domain.TransactionStatusFailed, d.clock).Return(true, nil)

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)
}

func TestSettlementService_CheckStatus_LedgerOutageStaysPending(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txA1", d.clock.Add(-time.Minute))

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.ledger.EXPECT().GetTransaction(ctx, "txA1").Return(nil, fmt.Errorf("%w: 502", ports.ErrLedgerUnavailable))

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, got.Status)
}

func TestSettlementService_CheckStatus_UnknownToLedgerStaysPending(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txNew", d.clock.Add(-time.Minute))

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.ledger.EXPECT().GetTransaction(ctx, "txNew").Return(nil, nil)

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, got.Status)
}

func TestSettlementService_CheckStatus_LostRaceReturnsStoredStatus(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txA1", d.clock.Add(-time.Minute))
	settled := *tx
	settled.Status = domain.TransactionStatusSuccess

	gomock.InOrder(
		d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil),
		d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID, gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil),
		d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(&settled, nil),
	)
	d.ledger.EXPECT().GetTransaction(ctx, "txA1").Return(&domain.LedgerTransaction{
		Validated: true, OutputsPresent: true, Metadata: []domain.MetadataEntry{},
	}, nil)

	got, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, got.Status)
}

func TestSettlementService_CheckStatus_NotOwner(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	tx := pendingTx(uuid.New(), "txA1", d.clock)
	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)

	_, err := d.svc.CheckStatus(ctx, uuid.New(), tx.ID)
	assertAppError(t, err, "AUTH_004")
}

func TestSettlementService_CheckStatus_NotFound(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.txRepo.EXPECT().GetByID(ctx, gomock.Any()).Return(nil, nil)

	_, err := d.svc.CheckStatus(ctx, uuid.New(), uuid.New())
	assertAppError(t, err, "RES_001")
}

func TestSettlementService_CheckStatus_UpdateError(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	tx := pendingTx(buyerID, "txA1", d.clock.Add(-time.Hour))
	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.txRepo.EXPECT().CompareAndSetStatus(ctx, tx.ID, gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("db down"))

	_, err := d.svc.CheckStatus(ctx, buyerID, tx.ID)
	assertAppError(t, err, "SYS_001")
}

// ==================== Queries & download ====================

func TestSettlementService_ListPurchased(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	ds := &domain.Dataset{ID: uuid.New(), Name: "weather"}
	tx := domain.Transaction{ID: uuid.New(), BuyerID: buyerID, DatasetID: ds.ID, Status: domain.TransactionStatusSuccess}
	orphan := domain.Transaction{ID: uuid.New(), BuyerID: buyerID, DatasetID: uuid.New(), Status: domain.TransactionStatusSuccess}

	d.txRepo.EXPECT().ListByBuyerAndStatus(ctx, buyerID, domain.TransactionStatusSuccess).Return([]domain.Transaction{tx, orphan}, nil)
	d.datasetRepo.EXPECT().GetByID(ctx, ds.ID).Return(ds, nil)
	d.datasetRepo.EXPECT().GetByID(ctx, orphan.DatasetID).Return(nil, nil)

	purchases, err := d.svc.ListPurchased(ctx, buyerID)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "weather", purchases[0].Dataset.Name)
	assert.Equal(t, tx.ID, purchases[0].Transaction.ID)
}

func TestSettlementService_ListPending(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	d.txRepo.EXPECT().ListByBuyerAndStatus(ctx, buyerID, domain.TransactionStatusPending).
		Return([]domain.Transaction{*pendingTx(buyerID, "p1", d.clock)}, nil)

	txs, err := d.svc.ListPending(ctx, buyerID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSettlementService_OpenDownload(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	buyerID := uuid.New()
	ds := &domain.Dataset{ID: uuid.New(), FilePath: "datasets/weather.csv"}

	d.txRepo.EXPECT().FindByBuyerDatasetStatus(ctx, buyerID, ds.ID, domain.TransactionStatusSuccess).
		Return(&domain.Transaction{ID: uuid.New()}, nil)
	d.datasetRepo.EXPECT().GetByID(ctx, ds.ID).Return(ds, nil)
	d.files.EXPECT().Open(ctx, "datasets/weather.csv").
		Return(io.NopCloser(strings.NewReader("a,b\n1,2\n")), int64(8), nil)

	dl, err := d.svc.OpenDownload(ctx, buyerID, ds.ID)
	require.NoError(t, err)
	defer dl.Body.Close()

	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))
	assert.Equal(t, int64(8), dl.Size)
}

func TestSettlementService_OpenDownload_NotPurchased(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.txRepo.EXPECT().FindByBuyerDatasetStatus(ctx, gomock.Any(), gomock.Any(), domain.TransactionStatusSuccess).Return(nil, nil)

	_, err := d.svc.OpenDownload(ctx, uuid.New(), uuid.New())
	assertAppError(t, err, "RES_001")
}

func TestSettlementService_OpenDownload_FileMissing(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	ds := &domain.Dataset{ID: uuid.New(), FilePath: "gone.csv"}
	d.txRepo.EXPECT().FindByBuyerDatasetStatus(ctx, gomock.Any(), ds.ID, gomock.Any()).Return(&domain.Transaction{}, nil)
	d.datasetRepo.EXPECT().GetByID(ctx, ds.ID).Return(ds, nil)
	d.files.EXPECT().Open(ctx, "gone.csv").Return(nil, int64(0), ports.ErrFileNotFound)

	_, err := d.svc.OpenDownload(ctx, uuid.New(), ds.ID)
	assertAppError(t, err, "INT_001")
}
