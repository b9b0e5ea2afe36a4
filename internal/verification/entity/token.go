package entity

import "time"

// Token is a persisted email verification token. Only the SHA-256 digest of
// the plaintext is stored.
type Token struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Used reports whether the token was consumed or revoked.
func (t *Token) Used() bool {
	return t.UsedAt != nil
}
