// Package smtp is the inline delivery transport: it speaks to the mail
// relay during the request and blocks until the relay accepts or rejects
// the message.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"courier/internal/dispatch"
	"courier/internal/storage"
	logx "courier/pkg/logx"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string // do not log
	// Timeout bounds the whole relay conversation when the caller's ctx
	// carries no earlier deadline. 0 means 30s.
	Timeout time.Duration
}

// Sender delivers messages through an SMTP relay, inline.
//
// Request latency is coupled to relay latency here; callers bound it via
// ctx. A cancelled or timed-out send reports failure, and the dispatcher
// records nothing.
type Sender struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, log: log}
}

func (s *Sender) Inline() bool { return true }
func (s *Sender) Name() string { return "smtp" }

func (s *Sender) Deliver(ctx context.Context, m storage.Message, _ string) error {
	start := time.Now()
	if err := s.send(ctx, m); err != nil {
		return &dispatch.TransportError{Transport: s.Name(), Err: err}
	}
	s.log.Debug("relay accepted message",
		logx.String("recipient", m.Recipient),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Sender) send(ctx context.Context, m storage.Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	d := net.Dialer{Deadline: deadline}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	// One deadline covers the whole conversation; a stalled relay fails
	// the send instead of pinning the request forever.
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(m.Sender); err != nil {
		return fmt.Errorf("mail from %s: %w", m.Sender, err)
	}
	if err := c.Rcpt(m.Recipient); err != nil {
		return fmt.Errorf("rcpt to %s: %w", m.Recipient, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(render(m)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}

// render builds the RFC 5322 wire form of the message.
func render(m storage.Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", m.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so request data can't inject headers.
func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.ReplaceAll(v, "\n", " ")
}
