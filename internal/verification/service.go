package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validate"
)

const (
	// TokenBytes of randomness, rendered as 64 hex characters.
	TokenBytes = 32
	TokenTTL   = 24 * time.Hour

	cleanupTimeout = 5 * time.Second
)

var (
	ErrInvalidToken    = apperr.Validation("invalid or expired verification token")
	ErrAlreadyVerified = apperr.Validation("email already verified")
	ErrUnknownEmail    = apperr.New(apperr.KindNotFound, "no account found for this email")
	ErrDelivery        = apperr.New(apperr.KindDelivery, "verification email could not be sent")
)

// Manager owns the verification token lifecycle.
type Manager struct {
	store    store.CredentialStore
	notifier notify.Notifier
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewManager(s store.CredentialStore, n notify.Notifier, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{store: s, notifier: n, logger: logger, now: time.Now}
}

// WithClock overrides the time source; used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue creates a token for userID through tokens, which is usually bound to
// the caller's transaction. Only the digest is stored; the plaintext is
// returned for the email.
func (m *Manager) Issue(ctx context.Context, tokens store.TokenRepository, userID int64) (string, int64, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", 0, err
	}
	plain := hex.EncodeToString(b)
	id, err := tokens.Insert(ctx, &entity.Token{
		UserID:    userID,
		TokenHash: HashToken(plain),
		ExpiresAt: m.now().Add(TokenTTL),
	})
	if err != nil {
		return "", 0, err
	}
	return plain, id, nil
}

// HashToken is the stored form of a plaintext token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Verify consumes token and marks its user verified in one transaction. Every
// kind of mismatch is reported as ErrInvalidToken.
func (m *Manager) Verify(ctx context.Context, token string) (int64, error) {
	if !wellFormed(token) {
		m.logger.Infow("verification rejected", "reason", "malformed")
		return 0, ErrInvalidToken
	}
	hash := HashToken(token)
	now := m.now()

	var userID int64
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		uid, err := tx.Tokens().Consume(ctx, hash, now)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				m.logger.Infow("verification rejected", "reason", m.reason(ctx, tx, hash, now))
				return ErrInvalidToken
			}
			return err
		}
		if err := tx.Users().MarkVerified(ctx, uid); err != nil {
			return err
		}
		if err := tx.Tokens().RevokeForUser(ctx, uid, 0, now); err != nil {
			return err
		}
		userID = uid
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return 0, ErrInvalidToken
		}
		return 0, apperr.Internal(err)
	}
	m.logger.Infow("email verified", "user_id", userID)
	return userID, nil
}

func (m *Manager) reason(ctx context.Context, tx store.Repositories, hash string, now time.Time) string {
	t, err := tx.Tokens().FindByHash(ctx, hash)
	switch {
	case err != nil:
		return "unknown"
	case t.Used():
		return "used"
	case t.Expired(now):
		return "expired"
	default:
		return "unknown"
	}
}

func wellFormed(token string) bool {
	if len(token) != 2*TokenBytes {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// ResendVerification mails a fresh token to an unverified account. The new
// token is persisted first and deleted again when the email cannot be
// delivered; earlier tokens are only revoked once the send succeeded, so a
// failed resend leaves the account exactly as it was.
func (m *Manager) ResendVerification(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)
	if !validate.Email(email) {
		return apperr.Validation("email must be a valid email address")
	}

	u, err := m.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownEmail
		}
		return apperr.Internal(err)
	}
	if u.IsVerified {
		return ErrAlreadyVerified
	}

	plain, tokenID, err := m.Issue(ctx, m.store.Tokens(), u.ID)
	if err != nil {
		return apperr.Internal(err)
	}

	if err := m.notifier.SendVerification(ctx, notify.Verification{Email: u.Email, Name: u.Name, Token: plain}); err != nil {
		m.logger.Warnw("resend verification failed", "user_id", u.ID, "err", err)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if dErr := m.store.Tokens().Delete(cctx, tokenID); dErr != nil {
			m.logger.Errorw("deleting undelivered token failed", "user_id", u.ID, "token_id", tokenID, "err", dErr)
		}
		return apperr.Wrap(apperr.KindDelivery, ErrDelivery.Message, err)
	}

	// the new email is out; older links stop working from here on
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := m.store.Tokens().RevokeForUser(cctx, u.ID, tokenID, m.now()); err != nil {
		m.logger.Errorw("revoking superseded tokens failed", "user_id", u.ID, "err", err)
	}
	m.logger.Infow("verification re-sent", "user_id", u.ID)
	return nil
}
