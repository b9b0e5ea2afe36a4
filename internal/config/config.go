// Package config loads the auth service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	minSecretLen   = 32
	maxMailRetries = 3
)

var defaultOrigins = []string{
	"http://localhost:5173",
	"https://rando.partageonslaforet.be",
	"https://www.rando.partageonslaforet.be",
}

type SMTP struct {
	Host        string
	Port        int
	User        string
	Password    string
	ImplicitTLS bool
}

type Config struct {
	HTTPAddr string

	JWTSecret     string
	JWTIssuer     string
	JWTExpiration time.Duration
	JWTRefreshTTL time.Duration

	AllowedOrigins []string
	AppURL         string

	MailDriver   string // smtp | log
	MailFrom     string
	MailFromName string
	MailTimeout  time.Duration
	MailRetries  int
	SMTP         SMTP

	SnowflakeNode int64
}

// ConfigFromEnv reads every setting, applying defaults. Call Validate before use.
func ConfigFromEnv() (Config, error) {
	var errs []error
	dur := func(key string, def time.Duration) time.Duration {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return def
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return d
	}
	num := func(key string, def int) int {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}

	c := Config{
		HTTPAddr:       getenv("HTTP_ADDR", "0.0.0.0:8431"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      getenv("JWT_ISSUER", "rando-auth"),
		JWTExpiration:  dur("JWT_EXPIRATION", 24*time.Hour),
		JWTRefreshTTL:  dur("JWT_REFRESH_EXPIRATION", 7*24*time.Hour),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AppURL:         getenv("APP_URL", "http://localhost:5173"),
		MailDriver:     strings.ToLower(getenv("MAIL_DRIVER", "smtp")),
		MailFrom:       os.Getenv("SMTP_FROM"),
		MailFromName:   getenv("SMTP_FROM_NAME", "Partageons la Forêt"),
		MailTimeout:    dur("MAIL_TIMEOUT", 5*time.Second),
		MailRetries:    num("MAIL_RETRIES", 1),
		SMTP: SMTP{
			Host:        os.Getenv("SMTP_HOST"),
			Port:        num("SMTP_PORT", 587),
			User:        os.Getenv("SMTP_USER"),
			Password:    os.Getenv("SMTP_PASSWORD"),
			ImplicitTLS: strings.EqualFold(os.Getenv("SMTP_SECURE"), "ssl"),
		},
		SnowflakeNode: int64(num("SNOWFLAKE_NODE", 1)),
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = append([]string(nil), defaultOrigins...)
	}
	if c.MailFrom == "" {
		// most providers only accept the login address as sender
		c.MailFrom = c.SMTP.User
	}
	return c, errors.Join(errs...)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.JWTExpiration <= 0 || c.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if u, err := url.Parse(c.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("APP_URL must be an absolute URL, got %q", c.AppURL))
	}
	switch c.MailDriver {
	case "log":
	case "smtp":
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("SMTP_HOST is required when MAIL_DRIVER=smtp"))
		}
		if c.MailFrom == "" {
			errs = append(errs, errors.New("SMTP_FROM or SMTP_USER is required when MAIL_DRIVER=smtp"))
		}
	default:
		errs = append(errs, fmt.Errorf("MAIL_DRIVER must be smtp or log, got %q", c.MailDriver))
	}
	if c.MailTimeout <= 0 {
		errs = append(errs, errors.New("MAIL_TIMEOUT must be positive"))
	}
	if c.MailRetries < 0 || c.MailRetries > maxMailRetries {
		errs = append(errs, fmt.Errorf("MAIL_RETRIES must be between 0 and %d", maxMailRetries))
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		errs = append(errs, errors.New("SNOWFLAKE_NODE must be between 0 and 1023"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.TrimRight(p, "/"))
		}
	}
	return out
}

// parseDuration accepts Go durations ("24h") and bare seconds ("86400"),
// the form JWT_EXPIRATION used before.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
