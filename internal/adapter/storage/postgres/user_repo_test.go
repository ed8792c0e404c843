package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.User{
		ID:            uuid.New(),
		WalletAddress: "addr_test1vz2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzerspjrlsz",
		Role:          domain.UserRoleConsumer,
		Profile:       domain.Profile{Name: "Ada", Institute: "IOG", Email: "ada@example.com"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func userRow(u *domain.User) *pgxmock.Rows {
	profile, _ := json.Marshal(u.Profile)
	return pgxmock.NewRows([]string{"id", "wallet_address", "role", "profile", "identity_document", "created_at", "updated_at"}).
		AddRow(u.ID, u.WalletAddress, u.Role, profile, u.IdentityDocument, u.CreatedAt, u.UpdatedAt)
}

func TestUserRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	u := newTestUser()
	profile, _ := json.Marshal(u.Profile)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.WalletAddress, u.Role, profile, u.IdentityDocument, u.CreatedAt, u.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_DuplicateWallet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	assert.ErrorIs(t, repo.Create(context.Background(), newTestUser()), ports.ErrDuplicateWallet)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByWalletAddress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	u := newTestUser()
	doc := "identity/abc.pdf"
	u.IdentityDocument = &doc

	mock.ExpectQuery("SELECT .+ FROM users WHERE wallet_address").
		WithArgs(u.WalletAddress).
		WillReturnRows(userRow(u))

	got, err := repo.GetByWalletAddress(context.Background(), u.WalletAddress)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Profile, got.Profile)
	require.NotNil(t, got.IdentityDocument)
	assert.Equal(t, doc, *got.IdentityDocument)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	u := newTestUser()
	profile, _ := json.Marshal(u.Profile)

	mock.ExpectExec("UPDATE users SET").
		WithArgs(u.Role, profile, u.IdentityDocument, u.UpdatedAt, u.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.Update(context.Background(), u))

	mock.ExpectExec("UPDATE users SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.Error(t, repo.Update(context.Background(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}
