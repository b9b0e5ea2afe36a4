package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validate"
)

var (
	ErrBadCredentials = apperr.New(apperr.KindAuthentication, "invalid email or password")
	ErrUnverified     = apperr.New(apperr.KindAuthorization, "email address not verified")
	ErrDisabled       = apperr.New(apperr.KindAuthorization, "account disabled")
	ErrUserNotFound   = apperr.New(apperr.KindNotFound, "user not found")
	ErrEmptyUpdate    = apperr.Validation("no fields to update")
)

// Service covers credential checks and the profile operations of an
// authenticated user.
type Service struct {
	users  store.UserRepository
	hasher PasswordHasher
	logger *zap.SugaredLogger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewService(users store.UserRepository, hasher PasswordHasher, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = NewArgon2Hasher(DefaultArgon2Params)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{users: users, hasher: hasher, logger: logger, now: time.Now}
}

// WithClock overrides the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AuthenticatePassword checks email + password and the account state. The
// password is verified before the account flags so that a wrong password
// never reveals whether an account is unverified or disabled.
func (s *Service) AuthenticatePassword(ctx context.Context, email, password string) (*entity.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// keep timing similar to a real mismatch
			s.hasher.Verify(s.dummy(), password)
			return nil, ErrBadCredentials
		}
		return nil, apperr.Internal(err)
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		s.logger.Infow("login rejected", "user_id", u.ID, "reason", "password mismatch")
		return nil, ErrBadCredentials
	}
	if !u.IsActive {
		return nil, ErrDisabled
	}
	if !u.IsVerified {
		return nil, ErrUnverified
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, apperr.Internal(err)
	}
	u.LastLogin = &now

	if s.hasher.NeedsRehash(u.PasswordHash) {
		if hash, algo, hErr := s.hasher.Hash(password); hErr == nil {
			if uErr := s.users.UpdatePassword(ctx, u.ID, hash, algo); uErr != nil {
				s.logger.Warnw("password rehash not saved", "user_id", u.ID, "err", uErr)
			} else {
				u.PasswordHash, u.PasswordAlgo = hash, algo
			}
		}
	}
	return u, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		s.dummyHash, _, _ = s.hasher.Hash(hex.EncodeToString(b))
	})
	return s.dummyHash
}

// GetProfile returns the user record behind id.
func (s *Service) GetProfile(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperr.Internal(err)
	}
	return u, nil
}

// UpdateProfile applies the allow-listed fields of upd in one statement.
func (s *Service) UpdateProfile(ctx context.Context, id int64, upd entity.ProfileUpdate) error {
	upd = trimUpdate(upd)
	if upd.Empty() {
		return ErrEmptyUpdate
	}
	if upd.Name != nil && *upd.Name == "" {
		return apperr.Validation("name must not be empty")
	}
	if err := validate.Struct(upd); err != nil {
		return err
	}
	if err := s.users.UpdateProfile(ctx, id, upd); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return apperr.Internal(err)
	}
	s.logger.Infow("profile updated", "user_id", id)
	return nil
}

func trimUpdate(upd entity.ProfileUpdate) entity.ProfileUpdate {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	return entity.ProfileUpdate{
		Name:         trim(upd.Name),
		Phone:        trim(upd.Phone),
		Address:      trim(upd.Address),
		Organization: trim(upd.Organization),
	}
}
