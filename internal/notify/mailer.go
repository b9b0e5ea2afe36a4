package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message is one outbound email with a plain-text and an HTML part.
type Message struct {
	From      mail.Address
	To        mail.Address
	Subject   string
	Text      string
	HTML      string
	MessageID string
	Date      time.Time
}

// Mailer hands a message to a transport. Implementations must honour ctx.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
}

type smtpClient interface {
	Hello(string) error
	Extension(string) (bool, string)
	StartTLS(*tls.Config) error
	Auth(smtp.Auth) error
	Mail(string) error
	Rcpt(string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

type dialFunc func(ctx context.Context, cfg SMTPConfig) (net.Conn, smtpClient, error)

// SMTPMailer delivers over SMTP with PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	dial dialFunc
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.Port == 0 {
		return nil, errors.New("smtp: port is required")
	}
	return &SMTPMailer{cfg: cfg, dial: dialSMTP}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To.Address == "" {
		return errors.New("smtp: recipient is required")
	}
	if msg.From.Address == "" {
		return errors.New("smtp: sender address is required")
	}
	body, err := formatMessage(msg)
	if err != nil {
		return err
	}

	conn, client, err := m.dial(ctx, m.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	// net/smtp has no context support; the deadline bounds every command.
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if !m.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
				return fmt.Errorf("smtp: start tls: %w", err)
			}
		}
	}
	if strings.TrimSpace(m.cfg.Username) != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}
	if err := client.Mail(msg.From.Address); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	if err := client.Rcpt(msg.To.Address); err != nil {
		return fmt.Errorf("smtp: rcpt to: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data command: %w", err)
	}
	if _, err := wc.Write(body); err != nil {
		_ = wc.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp: close data writer: %w", err)
	}
	return client.Quit()
}

func dialSMTP(ctx context.Context, cfg SMTPConfig) (net.Conn, smtpClient, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))

	var (
		conn net.Conn
		err  error
	)
	if cfg.ImplicitTLS {
		d := &tls.Dialer{Config: &tls.Config{ServerName: cfg.Host}}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("smtp: dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("smtp: new client: %w", err)
	}
	return conn, client, nil
}

// formatMessage renders a multipart/alternative RFC 5322 message.
func formatMessage(msg Message) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		if part.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("mail: create part: %w", err)
		}
		if _, err := io.WriteString(w, crlf(part.content)); err != nil {
			return nil, fmt.Errorf("mail: write part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mail: close multipart: %w", err)
	}

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	var out bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&out, "%s: %s\r\n", k, v) }
	header("From", msg.From.String())
	header("To", msg.To.String())
	header("Subject", mime.QEncoding.Encode("utf-8", escapeHeader(msg.Subject)))
	header("Date", date.Format(time.RFC1123Z))
	if msg.MessageID != "" {
		header("Message-ID", msg.MessageID)
	}
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func escapeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.ReplaceAll(v, "\n", " ")
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// LogMailer only logs that a message would have been sent. Message bodies are
// not logged because they carry verification links.
type LogMailer struct {
	Logger *zap.SugaredLogger
}

func (l LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.Logger.Infow("mail not sent (log driver)",
		"to", msg.To.Address,
		"subject", msg.Subject,
		"message_id", msg.MessageID,
	)
	return nil
}
