// Package auth exposes the /auth HTTP endpoints.
package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/gateway"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/registration"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/response"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validate"
)

const (
	maxBodyBytes       = 1 << 20
	refreshTokenHeader = "X-Refresh-Token"
)

var errMissingRefresh = apperr.New(apperr.KindAuthentication, "refresh token required")

// Handler wires the auth services to HTTP.
type Handler struct {
	reg    *registration.Service
	verify *verification.Manager
	users  *user.Service
	issuer *session.Issuer
	authn  *gateway.Authenticator
	lookup gateway.UserLookup
	logger *zap.SugaredLogger
}

type Deps struct {
	Registration *registration.Service
	Verification *verification.Manager
	Users        *user.Service
	Issuer       *session.Issuer
	Authn        *gateway.Authenticator
	Lookup       gateway.UserLookup
	Logger       *zap.SugaredLogger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		reg: d.Registration, verify: d.Verification, users: d.Users, issuer: d.Issuer,
		authn: d.Authn, lookup: d.Lookup, logger: logger,
	}
}

// Mount registers every /auth route on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.Signup)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/verify-email", h.VerifyEmail)
	mux.HandleFunc("GET /auth/verify-email", h.VerifyEmail)
	mux.HandleFunc("POST /auth/resend-verification", h.ResendVerification)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.Handle("GET /auth/profile", h.authn.RequireAuth(http.HandlerFunc(h.Profile)))
	mux.Handle("PATCH /auth/profile", h.authn.RequireAuth(http.HandlerFunc(h.UpdateProfile)))
	mux.Handle("GET /auth/admin/ping", h.authn.RequireAuth(gateway.RequireRole(entity.RoleAdmin)(http.HandlerFunc(h.AdminPing))))
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req registration.Request
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.reg.Register(r.Context(), req)
	metrics.Registrations.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Success(w, map[string]any{"email": p.Email},
		"Registration successful. Please check your email to verify your account.")
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token        string         `json:"token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    int64          `json:"expires_in"`
	User         entity.Profile `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	req.Email = user.NormalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		h.fail(w, err)
		return
	}

	u, err := h.users.AuthenticatePassword(r.Context(), req.Email, req.Password)
	metrics.Logins.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		h.fail(w, err)
		return
	}
	access, err := h.issuer.IssueAccessToken(u.ID, u.Role)
	if err != nil {
		h.fail(w, apperr.Internal(err))
		return
	}
	refresh, err := h.issuer.IssueRefreshToken(u.ID, u.Role)
	if err != nil {
		h.fail(w, apperr.Internal(err))
		return
	}
	h.logger.Infow("login", "user_id", u.ID)
	response.Success(w, LoginResponse{
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    int64(h.issuer.AccessTTL().Seconds()),
		User:         u.Profile(),
	}, "")
}

type verifyRequest struct {
	Token string `json:"token"`
}

// VerifyEmail accepts the token as JSON body (POST) or query parameter (GET,
// the link in the email).
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if r.Method == http.MethodGet {
		req.Token = r.URL.Query().Get("token")
	} else if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		h.fail(w, apperr.Validation("token is required"))
		return
	}

	_, err := h.verify.Verify(r.Context(), req.Token)
	metrics.Verifications.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Success(w, nil, "Email verified successfully. You can now log in.")
}

type resendRequest struct {
	Email string `json:"email"`
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.verify.ResendVerification(r.Context(), req.Email); err != nil {
		h.fail(w, err)
		return
	}
	response.Success(w, nil, "A new verification email has been sent.")
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFrom(r.Context())
	response.Success(w, map[string]any{"user": p.User.Profile()}, "")
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFrom(r.Context())
	var upd entity.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.users.UpdateProfile(r.Context(), p.User.ID, upd); err != nil {
		h.fail(w, err)
		return
	}
	u, err := h.users.GetProfile(r.Context(), p.User.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Success(w, map[string]any{"user": u.Profile()}, "Profile updated")
}

// Logout is stateless: the client discards its tokens. A valid bearer token
// is only used for the audit log line.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if tok, ok := gateway.BearerToken(r); ok {
		if c, err := h.issuer.Validate(tok); err == nil {
			h.logger.Infow("logout", "user_id", c.Subject)
		}
	}
	response.Success(w, nil, "Logged out")
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	rt := strings.TrimSpace(r.Header.Get(refreshTokenHeader))
	if rt == "" {
		h.fail(w, errMissingRefresh)
		return
	}
	access, claims, err := h.issuer.Refresh(rt)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, _ := claims.UserID()
	if _, err := h.lookup.GetActiveByID(r.Context(), id, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.fail(w, gateway.ErrAccountInactive)
			return
		}
		h.fail(w, apperr.Internal(err))
		return
	}
	response.Success(w, map[string]any{
		"token":      access,
		"expires_in": int64(h.issuer.AccessTTL().Seconds()),
	}, "")
}

func (h *Handler) AdminPing(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFrom(r.Context())
	response.Success(w, map[string]any{"user_id": p.User.ID, "role": p.User.Role}, "pong")
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if apperr.KindOf(err) == apperr.KindInternal || apperr.KindOf(err) == apperr.KindDelivery {
		h.logger.Errorw("request failed", "err", err)
	} else {
		h.logger.Debugw("request rejected", "err", err)
	}
	response.Error(w, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		case errors.As(err, &tooBig):
			return apperr.Validation("request body too large")
		default:
			return apperr.Wrap(apperr.KindValidation, "invalid JSON body", err)
		}
	}
	return nil
}
