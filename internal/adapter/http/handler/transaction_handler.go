package handler

import (
	"mime"
	"net/http"
	"path"

	"datamarket/internal/adapter/http/dto"
	"datamarket/internal/adapter/http/middleware"
	"datamarket/internal/core/ports"
	"datamarket/pkg/apperror"
	"datamarket/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const downloadRoute = "/api/v1/transactions/download/"

// TransactionHandler serves purchases, ratings and ledger verification.
type TransactionHandler struct {
	settlement ports.SettlementService
	integrity  ports.IntegrityService
	rating     ports.RatingService
	log        zerolog.Logger
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(settlement ports.SettlementService, integrity ports.IntegrityService, rating ports.RatingService, log zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{
		settlement: settlement,
		integrity:  integrity,
		rating:     rating,
		log:        log,
	}
}

// Purchase handles POST /api/v1/transactions/purchase.
func (h *TransactionHandler) Purchase(c *gin.Context) {
	buyerID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	datasetID, err := uuid.Parse(req.DatasetID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid dataset_id"))
		return
	}

	tx, err := h.settlement.Initiate(c.Request.Context(), buyerID, datasetID, req.TxRef)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, tx.ID.String())
	response.Created(c, dto.NewTransactionResponse(tx))
}

// Status handles GET /api/v1/transactions/status/:id.
func (h *TransactionHandler) Status(c *gin.Context) {
	buyerID, txID, ok := h.ownerAndID(c, "id")
	if !ok {
		return
	}

	tx, err := h.settlement.CheckStatus(c.Request.Context(), buyerID, txID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(tx))
}

// Bought handles GET /api/v1/transactions/bought.
func (h *TransactionHandler) Bought(c *gin.Context) {
	buyerID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	purchases, err := h.settlement.ListPurchased(c.Request.Context(), buyerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PurchasedDatasetResponse, 0, len(purchases))
	for _, p := range purchases {
		items = append(items, dto.NewPurchasedDatasetResponse(p, downloadRoute))
	}
	response.OK(c, items)
}

// Pending handles GET /api/v1/transactions/pending.
func (h *TransactionHandler) Pending(c *gin.Context) {
	buyerID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	txns, err := h.settlement.ListPending(c.Request.Context(), buyerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, dto.NewTransactionResponse(&txns[i]))
	}
	response.OK(c, items)
}

// Rate handles POST /api/v1/transactions/rate.
func (h *TransactionHandler) Rate(c *gin.Context) {
	buyerID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction_id"))
		return
	}

	tx, err := h.rating.SubmitRating(c.Request.Context(), buyerID, txID, req.Ratings())
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, tx.ID.String())
	response.OK(c, dto.NewTransactionResponse(tx))
}

// VerifyRatings handles GET /api/v1/transactions/verify-ratings/:id.
func (h *TransactionHandler) VerifyRatings(c *gin.Context) {
	buyerID, txID, ok := h.ownerAndID(c, "id")
	if !ok {
		return
	}

	anchored, err := h.rating.VerifyAgainstLedger(c.Request.Context(), buyerID, txID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !anchored {
		response.Error(c, apperror.ErrRatingNotAnchored())
		return
	}
	response.OK(c, dto.RatingVerificationResponse{Verified: true})
}

// VerifyChecksum handles GET /api/v1/transactions/verify-checksum/:id.
func (h *TransactionHandler) VerifyChecksum(c *gin.Context) {
	buyerID, txID, ok := h.ownerAndID(c, "id")
	if !ok {
		return
	}

	report, err := h.integrity.VerifyAgainstLedger(c.Request.Context(), buyerID, txID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !report.LedgerMatch {
		response.Error(c, apperror.ErrChecksumMismatch())
		return
	}
	response.OK(c, dto.IntegrityResponse{Verified: true, Report: *report})
}

// Download handles GET /api/v1/transactions/download/:datasetId.
func (h *TransactionHandler) Download(c *gin.Context) {
	buyerID, datasetID, ok := h.ownerAndID(c, "datasetId")
	if !ok {
		return
	}

	dl, err := h.settlement.OpenDownload(c.Request.Context(), buyerID, datasetID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer dl.Body.Close()

	name := path.Base(dl.Dataset.FilePath)
	if name == "." || name == "/" {
		name = dl.Dataset.ID.String()
	}
	headers := map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": name}),
		"X-Checksum-SHA256":   dl.Dataset.Checksum,
	}
	c.DataFromReader(http.StatusOK, dl.Size, "application/octet-stream", dl.Body, headers)

	h.log.Debug().
		Str("dataset_id", datasetID.String()).
		Str("buyer_id", buyerID.String()).
		Int64("bytes", dl.Size).
		Msg("dataset streamed")
}

// ownerAndID resolves the caller and a UUID route param, writing the error
// response itself when either is missing.
func (h *TransactionHandler) ownerAndID(c *gin.Context, param string) (uuid.UUID, uuid.UUID, bool) {
	buyerID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Error(c, apperror.Validation("invalid "+param))
		return uuid.Nil, uuid.Nil, false
	}
	return buyerID, id, true
}
