// Package pgstore implements store.CredentialStore on PostgreSQL via sqlx.
package pgstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	tokenrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

type repos struct {
	users  *userrepo.UserRepo
	tokens *tokenrepo.TokenRepo
}

func newRepos(db sqlx.ExtContext) repos {
	return repos{users: userrepo.NewUserRepo(db), tokens: tokenrepo.NewTokenRepo(db)}
}

func (r repos) Users() store.UserRepository   { return r.users }
func (r repos) Tokens() store.TokenRepository { return r.tokens }

// Store is the Postgres-backed credential store.
type Store struct {
	repos
	db *sqlx.DB
}

var _ store.CredentialStore = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	return &Store{repos: newRepos(db), db: db}
}

// WithinTx binds fresh repositories to a single transaction for fn.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Repositories) error) error {
	return database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, newRepos(tx))
	})
}
