package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store/memstore"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

type recordingNotifier struct {
	mu   sync.Mutex
	err  error
	sent []notify.Verification
}

func (r *recordingNotifier) SendVerification(_ context.Context, v notify.Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, v)
	return nil
}

func (r *recordingNotifier) last() notify.Verification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Manager, *memstore.Store, *recordingNotifier, *clock) {
	t.Helper()
	st := memstore.New()
	n := &recordingNotifier{}
	c := &clock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	return NewManager(st, n, nil).WithClock(c.now), st, n, c
}

func createUser(t *testing.T, st *memstore.Store, email string, verified bool) int64 {
	t.Helper()
	id, err := st.Users().Create(context.Background(), &entity.User{
		Email: email, Name: "Test", Role: entity.RoleUser, IsActive: true, IsVerified: verified,
	})
	require.NoError(t, err)
	return id
}

func issue(t *testing.T, m *Manager, st *memstore.Store, uid int64) string {
	t.Helper()
	var plain string
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Repositories) error {
		var err error
		plain, _, err = m.Issue(ctx, tx.Tokens(), uid)
		return err
	})
	require.NoError(t, err)
	return plain
}

func TestIssue_StoresOnlyDigest(t *testing.T) {
	m, st, _, c := setup(t)
	uid := createUser(t, st, "alice@example.com", false)

	plain := issue(t, m, st, uid)
	assert.Len(t, plain, 64)

	_, err := st.Tokens().FindByHash(context.Background(), plain)
	assert.ErrorIs(t, err, store.ErrNotFound, "plaintext must not be stored")

	tok, err := st.Tokens().FindByHash(context.Background(), HashToken(plain))
	require.NoError(t, err)
	assert.Equal(t, uid, tok.UserID)
	assert.Equal(t, c.t.Add(24*time.Hour), tok.ExpiresAt)
}

func TestVerify_ExactlyOnce(t *testing.T) {
	m, st, _, _ := setup(t)
	uid := createUser(t, st, "alice@example.com", false)
	plain := issue(t, m, st, uid)

	got, err := m.Verify(context.Background(), plain)
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	u, err := st.Users().GetByID(context.Background(), uid)
	require.NoError(t, err)
	assert.True(t, u.IsVerified)

	_, err = m.Verify(context.Background(), plain)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_ConcurrentSubmitsSucceedOnce(t *testing.T) {
	m, st, _, _ := setup(t)
	uid := createUser(t, st, "alice@example.com", false)
	plain := issue(t, m, st, uid)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Verify(context.Background(), plain); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestVerify_Expired(t *testing.T) {
	m, st, _, c := setup(t)
	uid := createUser(t, st, "alice@example.com", false)
	plain := issue(t, m, st, uid)

	c.t = c.t.Add(24*time.Hour + time.Second)
	_, err := m.Verify(context.Background(), plain)
	assert.ErrorIs(t, err, ErrInvalidToken)

	u, err := st.Users().GetByID(context.Background(), uid)
	require.NoError(t, err)
	assert.False(t, u.IsVerified)
}

func TestVerify_Malformed(t *testing.T) {
	m, _, _, _ := setup(t)
	for _, tok := range []string{"", "abc", strings.Repeat("z", 64), strings.Repeat("a", 65)} {
		_, err := m.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, ErrInvalidToken, tok)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestResend_IssuesFreshTokenAndRevokesOld(t *testing.T) {
	m, st, n, _ := setup(t)
	uid := createUser(t, st, "alice@example.com", false)
	old := issue(t, m, st, uid)

	require.NoError(t, m.ResendVerification(context.Background(), " ALICE@example.com "))
	fresh := n.last().Token
	assert.NotEqual(t, old, fresh)
	assert.Equal(t, "alice@example.com", n.last().Email)

	_, err := m.Verify(context.Background(), old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Verify(context.Background(), fresh)
	require.NoError(t, err)
}

func TestResend_Errors(t *testing.T) {
	m, st, _, _ := setup(t)
	createUser(t, st, "done@example.com", true)

	assert.ErrorIs(t, m.ResendVerification(context.Background(), "ghost@example.com"), ErrUnknownEmail)
	assert.ErrorIs(t, m.ResendVerification(context.Background(), "done@example.com"), ErrAlreadyVerified)

	err := m.ResendVerification(context.Background(), "not-an-email")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestResend_DeliveryFailureDropsNewToken(t *testing.T) {
	m, st, n, _ := setup(t)
	createUser(t, st, "alice@example.com", false)
	n.err = errors.New("smtp down")

	err := m.ResendVerification(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Equal(t, apperr.KindDelivery, apperr.KindOf(err))
	assert.Equal(t, 0, st.CountTokens())
}

func TestResend_DeliveryFailureKeepsEarlierToken(t *testing.T) {
	m, st, n, _ := setup(t)
	uid := createUser(t, st, "alice@example.com", false)
	old := issue(t, m, st, uid)
	n.err = errors.New("smtp down")

	err := m.ResendVerification(context.Background(), "alice@example.com")
	require.ErrorIs(t, err, ErrDelivery)
	assert.Equal(t, 1, st.CountTokens())

	// the link already in the inbox still works
	got, err := m.Verify(context.Background(), old)
	require.NoError(t, err)
	assert.Equal(t, uid, got)
}
