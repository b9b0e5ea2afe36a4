// Package session issues and validates the HS256-signed bearer tokens handed
// out at login. Tokens are stateless; nothing is persisted.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken = apperr.New(apperr.KindAuthentication, "invalid token")
	ErrExpiredToken = apperr.New(apperr.KindAuthentication, "token expired")
)

// Claims carried by every token we sign.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject back into the numeric user id.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer owns the signing secret.
type Issuer struct {
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Issuer{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source used for both issuance and validation.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// AccessTTL is the lifetime of access tokens.
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// IssueAccessToken signs a token for userID valid for AccessTTL.
func (i *Issuer) IssueAccessToken(userID int64, role string) (string, error) {
	return i.issue(userID, role, TypeAccess, i.cfg.AccessTTL)
}

// IssueRefreshToken signs a longer-lived token usable only at /auth/refresh.
func (i *Issuer) IssueRefreshToken(userID int64, role string) (string, error) {
	return i.issue(userID, role, TypeRefresh, i.cfg.RefreshTTL)
}

func (i *Issuer) issue(userID int64, role, typ string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate accepts only access tokens.
func (i *Issuer) Validate(token string) (*Claims, error) {
	return i.parse(token, TypeAccess)
}

// ValidateRefresh accepts only refresh tokens.
func (i *Issuer) ValidateRefresh(token string) (*Claims, error) {
	return i.parse(token, TypeRefresh)
}

// Refresh validates a refresh token and signs a new access token for the
// same subject and role with a fresh expiry.
func (i *Issuer) Refresh(refreshToken string) (string, *Claims, error) {
	c, err := i.ValidateRefresh(refreshToken)
	if err != nil {
		return "", nil, err
	}
	id, err := c.UserID()
	if err != nil {
		return "", nil, ErrInvalidToken
	}
	tok, err := i.IssueAccessToken(id, c.Role)
	if err != nil {
		return "", nil, err
	}
	return tok, c, nil
}

// parse checks the signature before anything else; only then is expiry
// looked at. jwt/v5 validates claims after the signature.
func (i *Issuer) parse(token, typ string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if c.Type != typ {
		return nil, ErrInvalidToken
	}
	if _, err := c.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return &c, nil
}
