package store

import (
	"context"
	"errors"

	"wellnest/pkg/domain"
)

// ErrDuplicateEmail is returned by CreateUser when the email is taken,
// including when a concurrent insert loses on the unique index.
var ErrDuplicateEmail = errors.New("email already registered")

// UserPatch lists profile fields to change. Nil fields are left untouched.
type UserPatch struct {
	Name           *string
	IsPremium      *bool
	ProfilePicture *string
}

// Settlement describes a paid checkout to record and credit.
type Settlement struct {
	Reference string
	Email     string
	Amount    string
	Currency  string
}

// SettleResult reports what SettlePayment did. Credited is false when the
// reference had already been settled or no account owns the email; the
// credited account is Payment.UserID.
type SettleResult struct {
	Payment        domain.Payment
	Credited       bool
	AlreadySettled bool
}

// Store defines persistence operations for users, journal entries and payments.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (domain.User, bool, error)

	// journal
	SaveEntry(ctx context.Context, e domain.JournalEntry) error
	ListEntriesByUser(ctx context.Context, userID string) ([]domain.JournalEntry, error)

	// payments
	SavePendingPayment(ctx context.Context, p domain.Payment) error
	GetPayment(ctx context.Context, reference string) (domain.Payment, bool, error)
	SettlePayment(ctx context.Context, s Settlement) (SettleResult, error)
	SavePaymentEvent(ctx context.Context, ev domain.PaymentEvent) error
}

// SessionStore issues and checks bearer tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteSession(ctx context.Context, token string) error
}
