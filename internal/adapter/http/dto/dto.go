package dto

import (
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
)

// ChallengeRequest asks for a login nonce for a wallet.
type ChallengeRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required,max=128,safe_id"`
}

// ChallengeResponse carries the nonce the wallet must sign.
type ChallengeResponse struct {
	Nonce          string `json:"nonce,omitempty"`
	SignupRequired bool   `json:"signup_required"`
}

// VerifyRequest is a signed challenge. Signature is a hex COSE_Sign1, Key a hex COSE_Key.
type VerifyRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required,max=128,safe_id"`
	Signature     string `json:"signature" binding:"required,max=4096,hexadecimal"`
	Key           string `json:"key" binding:"required,max=512,hexadecimal"`
}

// LoginResponse is the response body for a successful verify.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// ProfileRequest holds the self-declared signup details.
type ProfileRequest struct {
	Name       string `json:"name" binding:"required,min=1,max=100"`
	Age        int    `json:"age" binding:"omitempty,gte=0,lte=150"`
	Institute  string `json:"institute" binding:"max=200"`
	Email      string `json:"email" binding:"omitempty,email,max=254"`
	Address    string `json:"address" binding:"max=200"`
	City       string `json:"city" binding:"max=100"`
	PostalCode string `json:"postal_code" binding:"max=20"`
}

// SignupRequest is the request body for user registration.
type SignupRequest struct {
	WalletAddress string         `json:"wallet_address" binding:"required,max=128,safe_id"`
	Role          string         `json:"role" binding:"omitempty,oneof=PROVIDER CONSUMER"`
	Profile       ProfileRequest `json:"profile" binding:"required"`
}

// IdentityDocumentRequest references an already uploaded identity file.
type IdentityDocumentRequest struct {
	Path string `json:"path" binding:"required,max=255,safe_path"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID               string         `json:"id"`
	WalletAddress    string         `json:"wallet_address"`
	Role             string         `json:"role"`
	Profile          domain.Profile `json:"profile"`
	IdentityDocument *string        `json:"identity_document,omitempty"`
	CreatedAt        string         `json:"created_at"`
}

// PurchaseRequest claims a ledger transaction as payment for a dataset.
type PurchaseRequest struct {
	DatasetID string `json:"dataset_id" binding:"required,uuid"`
	TxRef     string `json:"tx_ref" binding:"required,max=128,safe_id"`
}

// RateRequest carries the five rating dimensions for a settled purchase.
type RateRequest struct {
	TransactionID string `json:"transaction_id" binding:"required,uuid"`
	Relevance     int    `json:"relevance" binding:"required,min=1,max=5"`
	Quality       int    `json:"quality" binding:"required,min=1,max=5"`
	Size          int    `json:"size" binding:"required,min=1,max=5"`
	Accessibility int    `json:"accessibility" binding:"required,min=1,max=5"`
	Bias          int    `json:"bias" binding:"required,min=1,max=5"`
}

// Ratings converts the request into the domain value.
func (r RateRequest) Ratings() domain.Ratings {
	return domain.Ratings{
		Relevance:     r.Relevance,
		Quality:       r.Quality,
		Size:          r.Size,
		Accessibility: r.Accessibility,
		Bias:          r.Bias,
	}
}

// TransactionResponse is the response body for a purchase.
type TransactionResponse struct {
	ID         string          `json:"id"`
	DatasetID  string          `json:"dataset_id"`
	TxRef      string          `json:"tx_ref"`
	Status     string          `json:"status"`
	Checksum   string          `json:"checksum"`
	Ratings    *domain.Ratings `json:"ratings,omitempty"`
	CreatedAt  string          `json:"created_at"`
	VerifiedAt *string         `json:"verified_at,omitempty"`
}

// DatasetResponse is the public view of a dataset.
type DatasetResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Checksum      string  `json:"checksum"`
	FileSize      int64   `json:"file_size"`
	RecordCount   int64   `json:"record_count"`
	Price         int64   `json:"price"`
	AverageRating float64 `json:"average_rating"`
	RatingCount   int64   `json:"rating_count"`
}

// PurchasedDatasetResponse is one entry of the bought list.
type PurchasedDatasetResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Dataset     DatasetResponse     `json:"dataset"`
	DownloadURL string              `json:"download_url"`
}

// RatingVerificationResponse reports a successful ledger cross-check.
type RatingVerificationResponse struct {
	Verified bool `json:"verified"`
}

// IntegrityResponse reports a successful checksum verification.
type IntegrityResponse struct {
	Verified bool                   `json:"verified"`
	Report   domain.IntegrityReport `json:"report"`
}

func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:               u.ID.String(),
		WalletAddress:    u.WalletAddress,
		Role:             string(u.Role),
		Profile:          u.Profile,
		IdentityDocument: u.IdentityDocument,
		CreatedAt:        u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:        t.ID.String(),
		DatasetID: t.DatasetID.String(),
		TxRef:     t.TxRef,
		Status:    string(t.Status),
		Checksum:  t.Checksum,
		Ratings:   t.Ratings,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.VerifiedAt != nil {
		s := t.VerifiedAt.UTC().Format(time.RFC3339)
		resp.VerifiedAt = &s
	}
	return resp
}

func NewDatasetResponse(d *domain.Dataset) DatasetResponse {
	return DatasetResponse{
		ID:            d.ID.String(),
		Name:          d.Name,
		Description:   d.Description,
		Checksum:      d.Checksum,
		FileSize:      d.FileSize,
		RecordCount:   d.RecordCount,
		Price:         d.Price,
		AverageRating: d.AverageRating,
		RatingCount:   d.RatingCount,
	}
}

// NewPurchasedDatasetResponse builds a bought-list entry; downloadBase is
// the route prefix the dataset ID is appended to.
func NewPurchasedDatasetResponse(p ports.Purchase, downloadBase string) PurchasedDatasetResponse {
	return PurchasedDatasetResponse{
		Transaction: NewTransactionResponse(&p.Transaction),
		Dataset:     NewDatasetResponse(&p.Dataset),
		DownloadURL: downloadBase + p.Dataset.ID.String(),
	}
}
