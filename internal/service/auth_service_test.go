package service

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type authTestDeps struct {
	svc      *AuthServiceImpl
	userRepo *mocks.MockUserRepository
	nonces   *mocks.MockNonceStore
	tokenSvc *mocks.MockTokenService
	ctrl     *gomock.Controller
}

func setupAuthService(t *testing.T) *authTestDeps {
	ctrl := gomock.NewController(t)
	d := &authTestDeps{
		userRepo: mocks.NewMockUserRepository(ctrl),
		nonces:   mocks.NewMockNonceStore(ctrl),
		tokenSvc: mocks.NewMockTokenService(ctrl),
		ctrl:     ctrl,
	}
	d.svc = NewAuthService(d.userRepo, d.nonces, d.tokenSvc, 5*time.Minute, zerolog.Nop())
	return d
}

func registeredUser(w *testWallet) *domain.User {
	return &domain.User{ID: uuid.New(), WalletAddress: w.address, Role: domain.UserRoleConsumer}
}

// ==================== IssueChallenge ====================

func TestAuthService_IssueChallenge_Unregistered(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.userRepo.EXPECT().GetByWalletAddress(ctx, "addr1unknown").Return(nil, nil)

	ch, err := d.svc.IssueChallenge(ctx, "addr1unknown")
	require.NoError(t, err)
	assert.True(t, ch.SignupRequired)
	assert.Empty(t, ch.Nonce)
}

func TestAuthService_IssueChallenge_FreshNonceEachTime(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	w := newTestWallet(t)
	user := registeredUser(w)
	stored := ""

	d.userRepo.EXPECT().GetByWalletAddress(ctx, w.address).Return(user, nil).Times(2)
	d.nonces.EXPECT().Swap(ctx, user.ID.String(), gomock.Any(), 5*time.Minute).
		DoAndReturn(func(_ context.Context, _ string, nonce string, _ time.Duration) (string, error) {
			prev := stored
			stored = nonce
			return prev, nil
		}).Times(2)

	first, err := d.svc.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	second, err := d.svc.IssueChallenge(ctx, w.address)
	require.NoError(t, err)

	assert.Regexp(t, `^[0-9]+$`, first.Nonce)
	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.Equal(t, second.Nonce, stored)
	assert.Equal(t, w.address, second.WalletAddress)
}

func TestAuthService_IssueChallenge_RegeneratesOnRepeat(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	w := newTestWallet(t)
	user := registeredUser(w)

	d.userRepo.EXPECT().GetByWalletAddress(ctx, w.address).Return(user, nil)
	gomock.InOrder(
		// Simulate the new nonce colliding with the outstanding one.
		d.nonces.EXPECT().Swap(ctx, user.ID.String(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, nonce string, _ time.Duration) (string, error) {
				return nonce, nil
			}),
		d.nonces.EXPECT().Swap(ctx, user.ID.String(), gomock.Any(), gomock.Any()).Return("", nil),
	)

	ch, err := d.svc.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.Nonce)
}

func TestAuthService_IssueChallenge_StoreError(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	w := newTestWallet(t)
	d.userRepo.EXPECT().GetByWalletAddress(ctx, w.address).Return(registeredUser(w), nil)
	d.nonces.EXPECT().Swap(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("redis down"))

	_, err := d.svc.IssueChallenge(ctx, w.address)
	assertAppError(t, err, "SYS_001")
}

// ==================== VerifyChallenge ====================

func TestAuthService_VerifyChallenge_Success(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	w := newTestWallet(t)
	user := registeredUser(w)
	expiry := time.Now().Add(time.Hour)

	d.userRepo.EXPECT().GetByWalletAddress(ctx, w.address).Return(user, nil)
	d.nonces.EXPECT().Consume(ctx, user.ID.String()).Return("482913", nil)
	d.tokenSvc.EXPECT().Generate(user.ID, w.address).Return("jwt-token", expiry, nil)

	token, exp, err := d.svc.VerifyChallenge(ctx, ports.VerifyRequest{
		WalletAddress: w.address,
		Signature:     w.sign(t, w.addr, "482913"),
		Key:           w.keyHex,
	})
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, expiry, exp)
}

func TestAuthService_VerifyChallenge_SingleCheckFailures(t *testing.T) {
	w := newTestWallet(t)
	other := newTestWallet(t)

	tampered := func() string {
		raw := decodeHex(t, w.sign(t, w.addr, "482913"))
		raw[len(raw)-1] ^= 0xff // last byte belongs to the signature
		return hex.EncodeToString(raw)
	}

	tests := []struct {
		name string
		req  ports.VerifyRequest
	}{
		{
			name: "proof made for another address",
			req:  ports.VerifyRequest{WalletAddress: w.address, Signature: w.sign(t, other.addr, "482913"), Key: w.keyHex},
		},
		{
			name: "key does not match signer",
			req:  ports.VerifyRequest{WalletAddress: w.address, Signature: w.sign(t, w.addr, "482913"), Key: other.keyHex},
		},
		{
			name: "tampered signature",
			req:  ports.VerifyRequest{WalletAddress: w.address, Signature: tampered(), Key: w.keyHex},
		},
		{
			name: "stale nonce",
			req:  ports.VerifyRequest{WalletAddress: w.address, Signature: w.sign(t, w.addr, "482914"), Key: w.keyHex},
		},
		{
			name: "malformed envelope",
			req:  ports.VerifyRequest{WalletAddress: w.address, Signature: "zz-not-hex", Key: w.keyHex},
		},
		{
			name: "malformed key",
			req:  ports.VerifyRequest{WalletAddress: w.address, Signature: w.sign(t, w.addr, "482913"), Key: "a0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupAuthService(t)
			defer d.ctrl.Finish()
			ctx := context.Background()
			user := registeredUser(w)

			d.userRepo.EXPECT().GetByWalletAddress(ctx, w.address).Return(user, nil)
			// Consumed even though verification fails.
			d.nonces.EXPECT().Consume(ctx, user.ID.String()).Return("482913", nil)

			_, _, err := d.svc.VerifyChallenge(ctx, tt.req)
			assertAppError(t, err, "AUTH_001")
		})
	}
}

func TestAuthService_VerifyChallenge_AddressInHeaderMatchesButClaimDiffers(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	w := newTestWallet(t)
	other := newTestWallet(t)
	user := registeredUser(other)

	// A valid proof for w submitted as if it were other's.
	d.userRepo.EXPECT().GetByWalletAddress(ctx, other.address).Return(user, nil)
	d.nonces.EXPECT().Consume(ctx, user.ID.String()).Return("77", nil)

	_, _, err := d.svc.VerifyChallenge(ctx, ports.VerifyRequest{
		WalletAddress: other.address,
		Signature:     w.sign(t, w.addr, "77"),
		Key:           w.keyHex,
	})
	assertAppError(t, err, "AUTH_001")
}

func TestAuthService_VerifyChallenge_ReplayAfterSuccess(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	w := newTestWallet(t)
	user := registeredUser(w)
	req := ports.VerifyRequest{WalletAddress: w.address, Signature: w.sign(t, w.addr, "1234"), Key: w.keyHex}

	d.userRepo.EXPECT().GetByWalletAddress(ctx, w.address).Return(user, nil).Times(2)
	gomock.InOrder(
		d.nonces.EXPECT().Consume(ctx, user.ID.String()).Return("1234", nil),
		d.nonces.EXPECT().Consume(ctx, user.ID.String()).Return("", nil),
	)
	d.tokenSvc.EXPECT().Generate(user.ID, w.address).Return("jwt", time.Now().Add(time.Hour), nil)

	_, _, err := d.svc.VerifyChallenge(ctx, req)
	require.NoError(t, err)

	_, _, err = d.svc.VerifyChallenge(ctx, req)
	assertAppError(t, err, "AUTH_001")
}

func TestAuthService_VerifyChallenge_UnregisteredWallet(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.userRepo.EXPECT().GetByWalletAddress(ctx, "addr1nobody").Return(nil, nil)

	_, _, err := d.svc.VerifyChallenge(ctx, ports.VerifyRequest{WalletAddress: "addr1nobody"})
	assertAppError(t, err, "AUTH_001")
}

func TestAuthService_VerifyChallenge_TokenError(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	w := newTestWallet(t)
	user := registeredUser(w)

	d.userRepo.EXPECT().GetByWalletAddress(ctx, w.address).Return(user, nil)
	d.nonces.EXPECT().Consume(ctx, user.ID.String()).Return("9", nil)
	d.tokenSvc.EXPECT().Generate(user.ID, w.address).Return("", time.Time{}, errors.New("boom"))

	_, _, err := d.svc.VerifyChallenge(ctx, ports.VerifyRequest{
		WalletAddress: w.address,
		Signature:     w.sign(t, w.addr, "9"),
		Key:           w.keyHex,
	})
	assertAppError(t, err, "SYS_001")
}
