// Package notify delivers verification emails. A failed delivery is always
// reported to the caller; nothing is queued or retried in the background.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/mail"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
)

// Verification is what a verification email needs.
type Verification struct {
	Email string
	Name  string
	Token string
}

// Notifier attempts delivery of a verification email.
type Notifier interface {
	SendVerification(ctx context.Context, v Verification) error
}

type Config struct {
	AppURL   string
	From     string
	FromName string
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first failure.
	Retries int
}

// MailNotifier renders the verification email and hands it to a Mailer.
type MailNotifier struct {
	mailer Mailer
	cfg    Config
	node   *snowflake.Node
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewMailNotifier(m Mailer, cfg Config, node *snowflake.Node, logger *zap.SugaredLogger) (*MailNotifier, error) {
	if m == nil {
		return nil, errors.New("notify: mailer is required")
	}
	if _, err := url.Parse(cfg.AppURL); err != nil || cfg.AppURL == "" {
		return nil, fmt.Errorf("notify: invalid app url %q", cfg.AppURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if node == nil {
		n, err := snowflake.NewNode(1)
		if err != nil {
			return nil, err
		}
		node = n
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MailNotifier{mailer: m, cfg: cfg, node: node, logger: logger, now: time.Now}, nil
}

// VerificationLink builds APP_URL/verify-email?token=<token>.
func (n *MailNotifier) VerificationLink(token string) string {
	return strings.TrimRight(n.cfg.AppURL, "/") + "/verify-email?token=" + url.QueryEscape(token)
}

func (n *MailNotifier) SendVerification(ctx context.Context, v Verification) error {
	msg, err := n.render(v)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= n.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("send verification: %w", err)
		}
		actx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		lastErr = n.mailer.Send(actx, msg)
		cancel()
		if lastErr == nil {
			metrics.MailDeliveries.WithLabelValues(metrics.ResultSuccess).Inc()
			n.logger.Infow("verification email sent", "to", v.Email, "message_id", msg.MessageID, "attempt", attempt+1)
			return nil
		}
		metrics.MailDeliveries.WithLabelValues(metrics.ResultFailure).Inc()
		n.logger.Warnw("verification email attempt failed", "to", v.Email, "attempt", attempt+1, "err", lastErr)
	}
	return fmt.Errorf("send verification: %w", lastErr)
}

func (n *MailNotifier) render(v Verification) (Message, error) {
	data := struct {
		Name, Link, Site string
	}{Name: v.Name, Link: n.VerificationLink(v.Token), Site: n.cfg.FromName}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}

	host := "localhost"
	if u, err := url.Parse(n.cfg.AppURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return Message{
		From:      mail.Address{Name: n.cfg.FromName, Address: n.cfg.From},
		To:        mail.Address{Name: v.Name, Address: v.Email},
		Subject:   "Vérification de votre compte " + n.cfg.FromName,
		Text:      text.String(),
		HTML:      html.String(),
		MessageID: "<" + n.node.Generate().String() + "@" + host + ">",
		Date:      n.now(),
	}, nil
}

var textTmpl = texttemplate.Must(texttemplate.New("text").Parse(`Bienvenue sur {{.Site}} !

Bonjour {{.Name}},

Merci de vous être inscrit(e) sur notre plateforme. Pour activer votre compte, ouvrez le lien ci-dessous :

{{.Link}}

Ce lien est valable pendant 24 heures.

Si vous n'avez pas créé de compte, vous pouvez ignorer cet email.
`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Bienvenue sur {{.Site}} !</h2>
  <p>Bonjour {{.Name}},</p>
  <p>Merci de vous être inscrit(e) sur notre plateforme. Pour activer votre compte, veuillez cliquer sur le lien ci-dessous :</p>
  <p style="margin: 20px 0;"><a href="{{.Link}}">Confirmer mon email</a></p>
  <p>Ou copiez ce lien dans votre navigateur :</p>
  <p style="word-break: break-all;">{{.Link}}</p>
  <p><strong>Ce lien est valable pendant 24 heures.</strong></p>
  <p>Si vous n'avez pas créé de compte, vous pouvez ignorer cet email.</p>
</div>
`))
