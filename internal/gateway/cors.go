package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Policy is the CORS allow-list and the values advertised to browsers.
type Policy struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int // seconds
}

// DefaultPolicy allows the given origins with the methods and headers the
// auth API uses.
func DefaultPolicy(origins []string) Policy {
	return Policy{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With", "X-Refresh-Token"},
		MaxAge:         3600,
	}
}

func (p Policy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range p.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// corsState lives in the request context; one per request.
type corsState struct {
	policy  *Policy
	applied bool
}

type corsKey struct{}

// CORS negotiates cross-origin access for every request and answers
// preflight OPTIONS requests itself with 204.
func CORS(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := &corsState{policy: &p}
			r = r.WithContext(context.WithValue(r.Context(), corsKey{}, st))
			ApplyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ApplyCORS writes the CORS headers for r at most once per request, however
// many call sites invoke it. Outside the CORS middleware it does nothing.
// A disallowed origin gets no CORS headers at all.
func ApplyCORS(w http.ResponseWriter, r *http.Request) {
	st, ok := r.Context().Value(corsKey{}).(*corsState)
	if !ok || st.applied {
		return
	}
	st.applied = true

	origin := r.Header.Get("Origin")
	if !st.policy.allows(origin) {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", strings.Join(st.policy.AllowedMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(st.policy.AllowedHeaders, ", "))
	if st.policy.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(st.policy.MaxAge))
	}
	if !hasToken(h.Values("Vary"), "Origin") {
		h.Add("Vary", "Origin")
	}
}

func hasToken(values []string, token string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
