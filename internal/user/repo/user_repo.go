package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// pgUniqueViolation is the SQLSTATE Postgres reports for a unique constraint.
const pgUniqueViolation = "23505"

const userColumns = `id, email, password_hash, password_algo, name, role, organization, phone, address,
	is_verified, is_active, created_at, updated_at, last_login`

// UserRepo provides data access for the users table using sqlx. It works on
// either a *sqlx.DB or a *sqlx.Tx.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row and returns its id. A duplicate email is
// reported as store.ErrDuplicateEmail.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (email, password_hash, password_algo, name, role, organization, phone, address, is_verified, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at, updated_at`
	row := r.db.QueryRowxContext(ctx, q,
		u.Email, u.PasswordHash, u.PasswordAlgo, u.Name, u.Role,
		u.Organization, u.Phone, u.Address, u.IsVerified, u.IsActive)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicateEmail
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return u.ID, nil
}

// GetByEmail returns a user matched by email (case-insensitive due to citext).
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetActiveByID fetches an active user, optionally requiring a verified email.
func (r *UserRepo) GetActiveByID(ctx context.Context, id int64, requireVerified bool) (*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_active = true`
	if requireVerified {
		q += ` AND is_verified = true`
	}
	return r.getOne(ctx, q, id)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

// MarkVerified flips is_verified on.
func (r *UserRepo) MarkVerified(ctx context.Context, id int64) error {
	return r.execOne(ctx, `UPDATE users SET is_verified = true, updated_at = NOW() WHERE id = $1`, id)
}

// TouchLastLogin records a successful login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
}

// UpdatePassword replaces the password hash and algorithm tag.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash, algo string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $2, password_algo = $3, updated_at = NOW() WHERE id = $1`, id, hash, algo)
}

// UpdateProfile applies the non-nil fields of upd in a single statement.
func (r *UserRepo) UpdateProfile(ctx context.Context, id int64, upd entity.ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	add("name", upd.Name)
	add("phone", upd.Phone)
	add("address", upd.Address)
	add("organization", upd.Organization)
	if len(sets) == 0 {
		return errors.New("update profile: no fields")
	}
	args = append(args, id)
	q := `UPDATE users SET ` + strings.Join(sets, ", ") + `, updated_at = NOW() WHERE id = $` + strconv.Itoa(len(args))
	return r.execOne(ctx, q, args...)
}

// Delete removes a user; verification tokens go with it (ON DELETE CASCADE).
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	return r.execOne(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("exec users: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
