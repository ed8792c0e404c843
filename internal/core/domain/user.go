package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserRole distinguishes dataset sellers from buyers.
type UserRole string

const (
	UserRoleProvider UserRole = "PROVIDER"
	UserRoleConsumer UserRole = "CONSUMER"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	return r == UserRoleProvider || r == UserRoleConsumer
}

// Profile holds the self-declared details collected at signup.
type Profile struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Institute  string `json:"institute"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// User is an identity anchored to a wallet address.
// Challenge nonces live in the NonceStore, never on the record.
type User struct {
	ID               uuid.UUID `json:"id"`
	WalletAddress    string    `json:"wallet_address"`
	Role             UserRole  `json:"role"`
	Profile          Profile   `json:"profile"`
	IdentityDocument *string   `json:"identity_document,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsProvider returns true if the user sells datasets.
func (u *User) IsProvider() bool {
	return u.Role == UserRoleProvider
}
