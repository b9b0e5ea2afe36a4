package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	ventity "github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
)

func TestCreate_DuplicateEmailIsCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Users().Create(ctx, &entity.User{Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = s.Users().Create(ctx, &entity.User{Email: "Alice@Example.COM"})
	assert.ErrorIs(t, err, store.ErrDuplicateEmail)
	assert.Equal(t, 1, s.CountUsers())
}

func TestWithinTx_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		id, err := tx.Users().Create(ctx, &entity.User{Email: "bob@example.com"})
		require.NoError(t, err)
		_, err = tx.Tokens().Insert(ctx, &ventity.Token{UserID: id, TokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.CountUsers())
	assert.Equal(t, 0, s.CountTokens())

	_, err = s.Users().GetByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithinTx_CommitKeepsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		_, err := tx.Users().Create(ctx, &entity.User{Email: "carol@example.com", IsActive: true})
		return err
	})
	require.NoError(t, err)

	u, err := s.Users().GetByEmail(ctx, "CAROL@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
}

func TestConsume_OnlyOnceAndNotAfterExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	id, err := s.Users().Create(ctx, &entity.User{Email: "dan@example.com"})
	require.NoError(t, err)
	_, err = s.Tokens().Insert(ctx, &ventity.Token{UserID: id, TokenHash: "fresh", ExpiresAt: now.Add(24 * time.Hour)})
	require.NoError(t, err)
	_, err = s.Tokens().Insert(ctx, &ventity.Token{UserID: id, TokenHash: "stale", ExpiresAt: now})
	require.NoError(t, err)

	uid, err := s.Tokens().Consume(ctx, "fresh", now)
	require.NoError(t, err)
	assert.Equal(t, id, uid)

	_, err = s.Tokens().Consume(ctx, "fresh", now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Tokens().Consume(ctx, "stale", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeForUser_KeepsGivenToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	id, err := s.Users().Create(ctx, &entity.User{Email: "fay@example.com"})
	require.NoError(t, err)
	_, err = s.Tokens().Insert(ctx, &ventity.Token{UserID: id, TokenHash: "old", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	keep, err := s.Tokens().Insert(ctx, &ventity.Token{UserID: id, TokenHash: "new", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, s.Tokens().RevokeForUser(ctx, id, keep, now))

	_, err = s.Tokens().Consume(ctx, "old", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Tokens().Consume(ctx, "new", now)
	assert.NoError(t, err)
}

func TestDeleteUser_CascadesTokens(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Users().Create(ctx, &entity.User{Email: "erin@example.com"})
	require.NoError(t, err)
	_, err = s.Tokens().Insert(ctx, &ventity.Token{UserID: id, TokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, s.Users().Delete(ctx, id))
	assert.Equal(t, 0, s.CountTokens())
}

func TestGetActiveByID_Filters(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Users().Create(ctx, &entity.User{Email: "fay@example.com", IsActive: true})
	require.NoError(t, err)

	_, err = s.Users().GetActiveByID(ctx, id, true)
	assert.ErrorIs(t, err, store.ErrNotFound)

	u, err := s.Users().GetActiveByID(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, u.IsVerified)

	require.NoError(t, s.Users().MarkVerified(ctx, id))
	_, err = s.Users().GetActiveByID(ctx, id, true)
	assert.NoError(t, err)
}
