// Package registration creates unverified accounts and sends their
// verification email. A failed send removes the account again, so no
// unverifiable account is left behind.
package registration

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validate"
)

const compensateTimeout = 5 * time.Second

var (
	ErrEmailTaken = apperr.New(apperr.KindConflict, "an account with this email already exists")
	ErrDelivery   = apperr.New(apperr.KindDelivery, "verification email could not be sent, please try again later")
)

// Request is the registration input.
type Request struct {
	Email        string  `json:"email" validate:"required,email,max=255"`
	Name         string  `json:"name" validate:"required,max=255"`
	Password     string  `json:"password" validate:"required,min=8,max=72"`
	Organization *string `json:"organization" validate:"omitempty,max=255"`
	Phone        *string `json:"phone" validate:"omitempty,max=20"`
	Address      *string `json:"address" validate:"omitempty,max=1000"`
}

// Pending is returned on success. It deliberately carries neither the
// token nor any credential.
type Pending struct {
	UserID int64
	Email  string
}

type Service struct {
	store    store.CredentialStore
	hasher   user.PasswordHasher
	tokens   *verification.Manager
	notifier notify.Notifier
	logger   *zap.SugaredLogger
}

func NewService(s store.CredentialStore, h user.PasswordHasher, tokens *verification.Manager, n notify.Notifier, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: s, hasher: h, tokens: tokens, notifier: n, logger: logger}
}

// Register validates req, writes the user and its first verification token
// in one transaction, then sends the email. When the send fails the user row
// is deleted (tokens cascade) and ErrDelivery is returned.
func (s *Service) Register(ctx context.Context, req Request) (*Pending, error) {
	req.Email = user.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	if _, err := s.store.Users().GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal(err)
	}

	hash, algo, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	u := &entity.User{
		Email:        req.Email,
		PasswordHash: hash,
		PasswordAlgo: algo,
		Name:         req.Name,
		Role:         entity.RoleUser,
		Organization: nonEmpty(req.Organization),
		Phone:        nonEmpty(req.Phone),
		Address:      nonEmpty(req.Address),
		IsVerified:   false,
		IsActive:     true,
	}
	var token string
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		if _, err := tx.Users().Create(ctx, u); err != nil {
			return err
		}
		var err error
		token, _, err = s.tokens.Issue(ctx, tx.Tokens(), u.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, apperr.Internal(err)
	}

	if err := s.notifier.SendVerification(ctx, notify.Verification{Email: u.Email, Name: u.Name, Token: token}); err != nil {
		s.logger.Warnw("registration rolled back: verification email failed", "email", u.Email, "err", err)
		s.compensate(ctx, u.ID)
		return nil, apperr.Wrap(apperr.KindDelivery, ErrDelivery.Message, err)
	}

	s.logger.Infow("user registered", "user_id", u.ID, "email", u.Email)
	return &Pending{UserID: u.ID, Email: u.Email}, nil
}

// compensate runs even if the request context is already cancelled.
func (s *Service) compensate(ctx context.Context, userID int64) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := s.store.Users().Delete(cctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Errorw("compensating delete failed; unverifiable account left behind", "user_id", userID, "err", err)
	}
}

func nonEmpty(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
