// Package store declares the persistence boundary of the auth service: user
// records and email verification tokens, plus a unit of work spanning both.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	ventity "github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrDuplicateEmail = errors.New("store: email already exists")
)

// UserRepository persists users.
type UserRepository interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	// GetActiveByID only returns active users, and when requireVerified is
	// set only verified ones; anything else is ErrNotFound.
	GetActiveByID(ctx context.Context, id int64, requireVerified bool) (*entity.User, error)
	MarkVerified(ctx context.Context, id int64) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash, algo string) error
	UpdateProfile(ctx context.Context, id int64, upd entity.ProfileUpdate) error
	Delete(ctx context.Context, id int64) error
}

// TokenRepository persists email verification tokens.
type TokenRepository interface {
	Insert(ctx context.Context, t *ventity.Token) (int64, error)
	// Consume marks the token identified by hash as used if it is unused and
	// unexpired at now, returning the bound user id. Otherwise ErrNotFound.
	Consume(ctx context.Context, hash string, now time.Time) (int64, error)
	FindByHash(ctx context.Context, hash string) (*ventity.Token, error)
	// RevokeForUser marks every outstanding token of the user as used, except
	// the one with id keepID (0 keeps none).
	RevokeForUser(ctx context.Context, userID, keepID int64, now time.Time) error
	Delete(ctx context.Context, id int64) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories interface {
	Users() UserRepository
	Tokens() TokenRepository
}

// CredentialStore is the entry point used by services.
type CredentialStore interface {
	Repositories
	// WithinTx runs fn against repositories bound to a single transaction,
	// committing when fn returns nil and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}
