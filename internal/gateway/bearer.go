// Package gateway gates requests: CORS negotiation on every request, and
// bearer authentication plus role checks on protected routes.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/response"
)

var (
	ErrMissingToken    = apperr.New(apperr.KindAuthentication, "authentication required")
	ErrAccountInactive = apperr.New(apperr.KindAuthentication, "account not found, inactive or not verified")
	ErrForbidden       = apperr.New(apperr.KindAuthorization, "insufficient permissions")
)

// TokenValidator checks an access token.
type TokenValidator interface {
	Validate(token string) (*session.Claims, error)
}

// UserLookup re-reads the account behind a token.
type UserLookup interface {
	GetActiveByID(ctx context.Context, id int64, requireVerified bool) (*entity.User, error)
}

// Principal is the authenticated caller.
type Principal struct {
	User   *entity.User
	Claims *session.Claims
	Token  string
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal put in ctx by RequireAuth.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

type Authenticator struct {
	tokens TokenValidator
	users  UserLookup
	logger *zap.SugaredLogger
}

func NewAuthenticator(tokens TokenValidator, users UserLookup, logger *zap.SugaredLogger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Authenticator{tokens: tokens, users: users, logger: logger}
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates the bearer token and then re-reads the user, which
// must still be active (and verified when requireVerified is set).
func (a *Authenticator) Authenticate(r *http.Request, requireVerified bool) (*Principal, error) {
	token, ok := BearerToken(r)
	if !ok {
		return nil, ErrMissingToken
	}
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, session.ErrInvalidToken
	}
	u, err := a.users.GetActiveByID(r.Context(), id, requireVerified)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.logger.Infow("token rejected", "user_id", id, "reason", "user missing, inactive or unverified")
			return nil, ErrAccountInactive
		}
		return nil, apperr.Internal(err)
	}
	return &Principal{User: u, Claims: claims, Token: token}, nil
}

// RequireAuth only lets active, verified users through.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return a.require(true, next)
}

// RequireAuthAllowUnverified also admits users who have not verified their email.
func (a *Authenticator) RequireAuthAllowUnverified(next http.Handler) http.Handler {
	return a.require(false, next)
}

func (a *Authenticator) require(requireVerified bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r, requireVerified)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				a.logger.Errorw("authentication failed", "err", err)
			}
			response.Error(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole must run behind RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				response.Error(w, ErrMissingToken)
				return
			}
			if p.User.Role != role {
				response.Error(w, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
