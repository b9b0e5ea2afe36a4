package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
)

// NOTE: table schema lives in internal/migrations:
// CREATE TABLE email_verifications (
//   id BIGSERIAL PRIMARY KEY,
//   user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//   token_hash CHAR(64) NOT NULL UNIQUE,
//   expires_at TIMESTAMPTZ NOT NULL,
//   used_at TIMESTAMPTZ,
//   created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
// );

type TokenRepo struct {
	db sqlx.ExtContext
}

func NewTokenRepo(db sqlx.ExtContext) *TokenRepo {
	return &TokenRepo{db: db}
}

func (r *TokenRepo) Insert(ctx context.Context, t *entity.Token) (int64, error) {
	const q = `INSERT INTO email_verifications (user_id, token_hash, expires_at) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := r.db.QueryRowxContext(ctx, q, t.UserID, t.TokenHash, t.ExpiresAt).Scan(&t.ID, &t.CreatedAt); err != nil {
		return 0, fmt.Errorf("insert verification token: %w", err)
	}
	return t.ID, nil
}

// Consume is a single conditional UPDATE so that two concurrent requests with
// the same token cannot both see it unused.
func (r *TokenRepo) Consume(ctx context.Context, hash string, now time.Time) (int64, error) {
	const q = `UPDATE email_verifications SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id`
	var userID int64
	if err := r.db.QueryRowxContext(ctx, q, hash, now).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("consume verification token: %w", err)
	}
	return userID, nil
}

func (r *TokenRepo) FindByHash(ctx context.Context, hash string) (*entity.Token, error) {
	const q = `SELECT id, user_id, token_hash, expires_at, used_at, created_at FROM email_verifications WHERE token_hash = $1`
	var t entity.Token
	if err := sqlx.GetContext(ctx, r.db, &t, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select verification token: %w", err)
	}
	return &t, nil
}

func (r *TokenRepo) RevokeForUser(ctx context.Context, userID, keepID int64, now time.Time) error {
	const q = `UPDATE email_verifications SET used_at = $2 WHERE user_id = $1 AND used_at IS NULL AND id <> $3`
	if _, err := r.db.ExecContext(ctx, q, userID, now, keepID); err != nil {
		return fmt.Errorf("revoke verification tokens: %w", err)
	}
	return nil
}

func (r *TokenRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM email_verifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete verification token: %w", err)
	}
	return nil
}
