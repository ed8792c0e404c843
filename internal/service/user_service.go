package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/pkg/apperror"

	"github.com/google/uuid"
)

type userService struct {
	userRepo ports.UserRepository
	files    ports.FileStore
}

// NewUserService creates a new signup and profile service.
func NewUserService(userRepo ports.UserRepository, files ports.FileStore) ports.UserService {
	return &userService{
		userRepo: userRepo,
		files:    files,
	}
}

func (s *userService) Signup(ctx context.Context, req ports.SignupRequest) (*domain.User, error) {
	address := strings.TrimSpace(req.WalletAddress)
	if _, err := AddressBytes(address); err != nil {
		return nil, apperror.Validation("wallet_address is not a valid bech32 address")
	}

	role := req.Role
	if role == "" {
		role = domain.UserRoleConsumer
	}
	if !role.Valid() {
		return nil, apperror.Validation("role must be PROVIDER or CONSUMER")
	}

	existing, err := s.userRepo.GetByWalletAddress(ctx, address)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrWalletRegistered()
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:            uuid.New(),
		WalletAddress: address,
		Role:          role,
		Profile:       req.Profile,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// Lost a race with a concurrent signup for the same wallet.
		if errors.Is(err, ports.ErrDuplicateWallet) {
			return nil, apperror.ErrWalletRegistered()
		}
		return nil, apperror.InternalError(fmt.Errorf("create user: %w", err))
	}

	return user, nil
}

func (s *userService) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}
	return user, nil
}

// AttachIdentityDocument points the user at an already uploaded identity file.
func (s *userService) AttachIdentityDocument(ctx context.Context, userID uuid.UUID, path string) (*domain.User, error) {
	if strings.TrimSpace(path) == "" {
		return nil, apperror.Validation("path is required")
	}

	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, err := s.files.Exists(ctx, path)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("stat identity document: %w", err))
	}
	if !ok {
		return nil, apperror.ErrFileMissing()
	}

	user.IdentityDocument = &path
	user.UpdatedAt = time.Now().UTC()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update user: %w", err))
	}
	return user, nil
}
