package ports

import (
	"context"
	"io"
	"time"

	"datamarket/internal/core/domain"

	"github.com/google/uuid"
)

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, walletAddress string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID        uuid.UUID
	WalletAddress string
}

// --- Service Ports (Business Logic) ---

// AuthService runs the wallet challenge-response login.
type AuthService interface {
	IssueChallenge(ctx context.Context, walletAddress string) (*Challenge, error)
	VerifyChallenge(ctx context.Context, req VerifyRequest) (string, time.Time, error) // token, expiry, error
}

// Challenge is the outcome of IssueChallenge. SignupRequired is set, with an
// empty Nonce, when no user owns the wallet.
type Challenge struct {
	WalletAddress  string
	Nonce          string
	SignupRequired bool
}

// VerifyRequest carries a signed challenge response. Signature is a
// hex-encoded COSE_Sign1 and Key a hex-encoded COSE_Key.
type VerifyRequest struct {
	WalletAddress string
	Signature     string
	Key           string
}

// UserService manages signup and profile data.
type UserService interface {
	Signup(ctx context.Context, req SignupRequest) (*domain.User, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	AttachIdentityDocument(ctx context.Context, userID uuid.UUID, path string) (*domain.User, error)
}

// SignupRequest holds input for user registration.
type SignupRequest struct {
	WalletAddress string
	Role          domain.UserRole
	Profile       domain.Profile
}

// SettlementService owns the purchase lifecycle.
type SettlementService interface {
	Initiate(ctx context.Context, buyerID, datasetID uuid.UUID, txRef string) (*domain.Transaction, error)
	CheckStatus(ctx context.Context, buyerID, txID uuid.UUID) (*domain.Transaction, error)
	ListPurchased(ctx context.Context, buyerID uuid.UUID) ([]Purchase, error)
	ListPending(ctx context.Context, buyerID uuid.UUID) ([]domain.Transaction, error)
	OpenDownload(ctx context.Context, buyerID, datasetID uuid.UUID) (*Download, error)
}

// Purchase pairs a settled transaction with the dataset it bought.
type Purchase struct {
	Transaction domain.Transaction
	Dataset     domain.Dataset
}

// Download is an open dataset file. The caller must Close Body.
type Download struct {
	Dataset domain.Dataset
	Body    io.ReadCloser
	Size    int64
}

// IntegrityService compares file content against ledger-anchored checksums.
type IntegrityService interface {
	ComputeChecksum(r io.Reader) (string, error)
	VerifyAgainstLedger(ctx context.Context, buyerID, txID uuid.UUID) (*domain.IntegrityReport, error)
}

// RatingService accepts buyer ratings and cross-checks them with the ledger.
type RatingService interface {
	SubmitRating(ctx context.Context, buyerID, txID uuid.UUID, ratings domain.Ratings) (*domain.Transaction, error)
	VerifyAgainstLedger(ctx context.Context, buyerID, txID uuid.UUID) (bool, error)
}

// AuditService records audited actions asynchronously.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
