package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
	"unicode/utf8"

	"datamarket/internal/core/ports"
	"datamarket/pkg/apperror"

	"github.com/rs/zerolog"
)

// nonceSpace bounds challenge nonces to twelve decimal digits.
var nonceSpace = big.NewInt(1_000_000_000_000)

const maxNonceAttempts = 3

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	userRepo     ports.UserRepository
	nonces       ports.NonceStore
	tokenSvc     ports.TokenService
	challengeTTL time.Duration
	log          zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	userRepo ports.UserRepository,
	nonces ports.NonceStore,
	tokenSvc ports.TokenService,
	challengeTTL time.Duration,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		userRepo:     userRepo,
		nonces:       nonces,
		tokenSvc:     tokenSvc,
		challengeTTL: challengeTTL,
		log:          log,
	}
}

// IssueChallenge replaces the user's outstanding nonce with a fresh one.
// Unknown wallets get SignupRequired and no state is created.
func (s *AuthServiceImpl) IssueChallenge(ctx context.Context, walletAddress string) (*ports.Challenge, error) {
	user, err := s.userRepo.GetByWalletAddress(ctx, walletAddress)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return &ports.Challenge{WalletAddress: walletAddress, SignupRequired: true}, nil
	}

	var nonce string
	for attempt := 0; ; attempt++ {
		nonce, err = generateNonce()
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("generate nonce: %w", err))
		}
		prev, err := s.nonces.Swap(ctx, user.ID.String(), nonce, s.challengeTTL)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("store nonce: %w", err))
		}
		if prev != nonce {
			break
		}
		if attempt+1 == maxNonceAttempts {
			return nil, apperror.InternalError(fmt.Errorf("nonce repeated %d times", maxNonceAttempts))
		}
	}

	return &ports.Challenge{WalletAddress: user.WalletAddress, Nonce: nonce}, nil
}

// VerifyChallenge checks a signed challenge response and issues a token.
// The outstanding nonce is consumed whatever the outcome, so every attempt
// needs a fresh challenge.
func (s *AuthServiceImpl) VerifyChallenge(ctx context.Context, req ports.VerifyRequest) (string, time.Time, error) {
	user, err := s.userRepo.GetByWalletAddress(ctx, req.WalletAddress)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return "", time.Time{}, apperror.ErrVerificationFailed()
	}

	nonce, err := s.nonces.Consume(ctx, user.ID.String())
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("consume nonce: %w", err))
	}

	checks, err := checkProof(req, nonce)
	if err != nil || !checks.passed() {
		s.log.Debug().
			Err(err).
			Str("user_id", user.ID.String()).
			Bool("address", checks.address).
			Bool("key", checks.key).
			Bool("signature", checks.signature).
			Bool("nonce", checks.nonce).
			Msg("challenge verification failed")
		return "", time.Time{}, apperror.ErrVerificationFailed()
	}

	token, expiry, err := s.tokenSvc.Generate(user.ID, user.WalletAddress)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("wallet authenticated")
	return token, expiry, nil
}

type proofChecks struct {
	address   bool
	key       bool
	signature bool
	nonce     bool
}

func (c proofChecks) passed() bool {
	return c.address && c.key && c.signature && c.nonce
}

// checkProof evaluates every check without short-circuiting.
// An error means the envelope or key could not be decoded at all.
func checkProof(req ports.VerifyRequest, nonce string) (proofChecks, error) {
	var c proofChecks

	rawMsg, err := hex.DecodeString(req.Signature)
	if err != nil {
		return c, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	msg, err := DecodeSignedMessage(rawMsg)
	if err != nil {
		return c, err
	}
	rawKey, err := hex.DecodeString(req.Key)
	if err != nil {
		return c, fmt.Errorf("%w: %v", errMalformedKey, err)
	}
	pub, err := DecodeCOSEKey(rawKey)
	if err != nil {
		return c, err
	}
	toSign, err := msg.SigStructure()
	if err != nil {
		return c, fmt.Errorf("encoding Sig_structure: %w", err)
	}

	claimed, err := AddressBytes(req.WalletAddress)
	c.address = err == nil && subtle.ConstantTimeCompare(claimed, msg.Address) == 1
	c.key = KeyControlsAddress(pub, msg.Address)
	c.signature = ed25519.Verify(pub, toSign, msg.Signature)
	c.nonce = nonce != "" && utf8.Valid(msg.Payload) &&
		subtle.ConstantTimeCompare([]byte(nonce), msg.Payload) == 1

	return c, nil
}

// generateNonce returns a uniformly random decimal string.
func generateNonce() (string, error) {
	n, err := rand.Int(rand.Reader, nonceSpace)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

