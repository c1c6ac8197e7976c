package digest

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/pkg/types"
)

// ErrDisabled is returned when digests are turned off in config
var ErrDisabled = errors.New("digest disabled")

// ErrNoRecipients is returned when there is nobody to send to
var ErrNoRecipients = errors.New("no digest recipients configured")

// StatusSource supplies the sync status a digest summarizes
type StatusSource interface {
	SyncStatus(ctx context.Context) (*types.SyncStatusResponse, error)
}

// Mailer delivers a raw RFC 5322 message
type Mailer interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// Sender fetches status, renders it and mails it
type Sender struct {
	cfg    config.DigestConfig
	source StatusSource
	mailer Mailer
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Sender
type Option func(*Sender)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sender) { s.logger = logger }
}

// WithMailer replaces the SMTP mailer
func WithMailer(m Mailer) Option {
	return func(s *Sender) { s.mailer = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

// NewSender creates a Sender. Without WithMailer it delivers over SMTP using cfg.
func NewSender(cfg config.DigestConfig, source StatusSource, opts ...Option) *Sender {
	s := &Sender{
		cfg:    cfg,
		source: source,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mailer == nil {
		s.mailer = &SMTPMailer{Host: cfg.SMTPHost, Port: cfg.SMTPPort, User: cfg.SMTPUser, Password: cfg.SMTPPassword}
	}
	return s
}

// Build fetches the current status and renders the digest
func (s *Sender) Build(ctx context.Context) (Message, error) {
	status, err := s.source.SyncStatus(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("failed to get sync status: %w", err)
	}
	return Render(*status, s.now())
}

// Send renders the digest and mails it to every recipient
func (s *Sender) Send(ctx context.Context) (Message, error) {
	if !s.cfg.Enabled {
		s.logger.Info("digest emails disabled")
		return Message{}, ErrDisabled
	}
	if len(s.cfg.Recipients) == 0 {
		s.logger.Warn("no recipients configured for digest")
		return Message{}, ErrNoRecipients
	}

	msg, err := s.Build(ctx)
	if err != nil {
		return Message{}, err
	}

	from := s.from()
	raw, err := Compose(from, s.cfg.Recipients, msg)
	if err != nil {
		return msg, err
	}
	if err := s.mailer.Send(ctx, from, s.cfg.Recipients, raw); err != nil {
		s.logger.Error("failed to send digest email", zap.Strings("recipients", s.cfg.Recipients), zap.Error(err))
		return msg, fmt.Errorf("failed to send digest: %w", err)
	}
	s.logger.Info("digest email sent", zap.Strings("recipients", s.cfg.Recipients), zap.String("subject", msg.Subject))
	return msg, nil
}

func (s *Sender) from() string {
	if s.cfg.FromAddress != "" {
		return s.cfg.FromAddress
	}
	return s.cfg.SMTPUser
}

// Compose encodes msg as a multipart/alternative email with plain text first
func Compose(from string, to []string, msg Message) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// SMTPMailer sends through an SMTP relay, upgrading with STARTTLS
type SMTPMailer struct {
	Host     string
	Port     int
	User     string
	Password string

	// TLSConfig overrides the STARTTLS configuration
	TLSConfig *tls.Config
}

// Send delivers msg. STARTTLS is required; a relay that does not offer it is refused.
func (m *SMTPMailer) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if m.Host == "" {
		return errors.New("smtp host not configured")
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server %s does not support STARTTLS", addr)
	}
	tlsConfig := m.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: m.Host, MinVersion: tls.VersionTLS12}
	}
	if err := c.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	if m.User != "" {
		if err := c.Auth(smtp.PlainAuth("", m.User, m.Password, m.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
