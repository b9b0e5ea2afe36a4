package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store/memstore"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/response"
)

const allowed = "https://rando.partageonslaforet.be"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ApplyCORS(w, r) // second call site must be a no-op
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_AllowedOrigin(t *testing.T) {
	h := CORS(DefaultPolicy([]string{allowed}))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Origin", allowed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, allowed, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Refresh-Token")
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, []string{"Origin"}, rec.Header().Values("Vary"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	h := CORS(DefaultPolicy([]string{allowed}))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, rec.Header().Values("Vary"))
}

func TestCORS_PreflightIsTerminal(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := CORS(DefaultPolicy([]string{allowed}))(next)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", allowed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, allowed, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_NestedMiddlewareEmitsOnce(t *testing.T) {
	p := DefaultPolicy([]string{allowed})
	// a second CORS layer gets its own state; headers are Set, Vary is not duplicated
	h := CORS(p)(CORS(p)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", allowed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, []string{allowed}, rec.Header().Values("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"Origin"}, rec.Header().Values("Vary"))
}

func TestCORS_StateIsPerRequest(t *testing.T) {
	h := CORS(DefaultPolicy([]string{allowed}))(okHandler())
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", allowed)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, allowed, rec.Header().Get("Access-Control-Allow-Origin"), "request %d", i)
	}
}

func TestApplyCORS_OutsideMiddlewareIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", allowed)
	rec := httptest.NewRecorder()
	ApplyCORS(rec, req)
	assert.Empty(t, rec.Header())
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		token  string
		ok     bool
	}{
		"standard":     {"Bearer abc", "abc", true},
		"lower scheme": {"bearer abc", "abc", true},
		"upper scheme": {"BEARER abc", "abc", true},
		"missing":      {"", "", false},
		"basic":        {"Basic abc", "", false},
		"no token":     {"Bearer", "", false},
		"extra parts":  {"Bearer a b", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			tok, ok := BearerToken(req)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.token, tok)
		})
	}
}

type fixture struct {
	auth   *Authenticator
	issuer *session.Issuer
	store  *memstore.Store
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	clk := func() time.Time { return now }
	iss := session.NewIssuer(session.Config{Secret: []byte("0123456789abcdef0123456789abcdef")}).WithClock(clk)
	st := memstore.New()
	return &fixture{auth: NewAuthenticator(iss, st.Users(), nil), issuer: iss, store: st, now: now}
}

func (f *fixture) user(t *testing.T, email, role string, verified, active bool) (int64, string) {
	t.Helper()
	id, err := f.store.Users().Create(context.Background(), &entity.User{
		Email: email, Name: "X", Role: role, IsVerified: verified, IsActive: active,
	})
	require.NoError(t, err)
	tok, err := f.issuer.IssueAccessToken(id, role)
	require.NoError(t, err)
	return id, tok
}

func call(h http.Handler, token string) (*httptest.ResponseRecorder, response.Envelope) {
	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env response.Envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)
	var got *Principal
	h := f.auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	id, tok := f.user(t, "ok@example.com", entity.RoleUser, true, true)
	rec, _ := call(h, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, id, got.User.ID)
	assert.Equal(t, tok, got.Token)

	_, unverified := f.user(t, "new@example.com", entity.RoleUser, false, true)
	_, inactive := f.user(t, "gone@example.com", entity.RoleUser, true, false)

	for name, token := range map[string]string{
		"missing":    "",
		"garbage":    "not-a-jwt",
		"unverified": unverified,
		"inactive":   inactive,
	} {
		t.Run(name, func(t *testing.T) {
			got = nil
			rec, env := call(h, token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, response.StatusError, env.Status)
			assert.NotEmpty(t, env.Message)
			assert.Nil(t, got, "handler must not run")
		})
	}
}

func TestRequireAuth_Expired(t *testing.T) {
	f := newFixture(t)
	_, tok := f.user(t, "ok@example.com", entity.RoleUser, true, true)

	later := session.NewIssuer(session.Config{Secret: []byte("0123456789abcdef0123456789abcdef")}).
		WithClock(func() time.Time { return f.now.Add(25 * time.Hour) })
	auth := NewAuthenticator(later, f.store.Users(), nil)

	rec, env := call(auth.RequireAuth(okHandler()), tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token expired", env.Message)
}

func TestRequireAuthAllowUnverified(t *testing.T) {
	f := newFixture(t)
	_, tok := f.user(t, "new@example.com", entity.RoleUser, false, true)

	rec, _ := call(f.auth.RequireAuthAllowUnverified(okHandler()), tok)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type brokenUsers struct{}

func (brokenUsers) GetActiveByID(context.Context, int64, bool) (*entity.User, error) {
	return nil, errors.New("pq: connection refused")
}

func TestRequireAuth_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	_, tok := f.user(t, "ok@example.com", entity.RoleUser, true, true)
	auth := NewAuthenticator(f.issuer, brokenUsers{}, nil)

	rec, env := call(auth.RequireAuth(okHandler()), tok)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, env.Message, "pq")
}

func TestRequireRole(t *testing.T) {
	f := newFixture(t)
	h := f.auth.RequireAuth(RequireRole(entity.RoleAdmin)(okHandler()))

	_, userTok := f.user(t, "user@example.com", entity.RoleUser, true, true)
	_, adminTok := f.user(t, "admin@example.com", entity.RoleAdmin, true, true)

	rec, _ := call(h, userTok)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = call(h, adminTok)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = call(RequireRole(entity.RoleAdmin)(okHandler()), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
