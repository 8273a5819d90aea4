package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// TLS modes for the relay connection
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "implicit"
	TLSNone     = "none"
)

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true // Assume temporary if unknown
}

// MessageSigner signs raw messages before they are sent
type MessageSigner interface {
	Sign(message []byte) ([]byte, error)
}

// RelayConfig configures the SMTP relay
type RelayConfig struct {
	Addr     string
	Username string
	Password string
	TLS      string
	Hostname string
	Timeout  time.Duration
}

// SMTPSender submits messages to an authenticated SMTP relay
type SMTPSender struct {
	cfg       RelayConfig
	tlsConfig *tls.Config
	signer    MessageSigner
	logger    *slog.Logger
}

// NewSMTPSender creates a relay sender
func NewSMTPSender(cfg RelayConfig, logger *slog.Logger) (*SMTPSender, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address %q: %w", cfg.Addr, err)
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	return &SMTPSender{
		cfg: cfg,
		tlsConfig: &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		},
		logger: logger,
	}, nil
}

// SetSigner enables DKIM signing of outgoing messages
func (s *SMTPSender) SetSigner(signer MessageSigner) {
	s.signer = signer
}

// Send delivers msg to the relay
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", s.cfg.Addr, err),
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	if s.cfg.TLS == TLSImplicit {
		conn = tls.Client(conn, s.tlsConfig)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if err := client.Hello(s.cfg.Hostname); err != nil {
		return categorizeError(err, "HELO")
	}

	if s.cfg.TLS == TLSStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return &DeliveryError{Temporary: false, Message: "relay does not support STARTTLS"}
		}
		if err := client.StartTLS(s.tlsConfig); err != nil {
			return categorizeError(err, "STARTTLS")
		}
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	data := msg.Data
	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned", "error", err)
		} else {
			data = signed
		}
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return categorizeError(err, fmt.Sprintf("RCPT TO %s", msg.To))
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()
	return nil
}

// categorizeError determines if an SMTP error is temporary or permanent
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Temporary: smtpErr.Code/100 != 5,
			Message:   msg,
		}
	}

	// Assume temporary by default
	return &DeliveryError{
		Temporary: true,
		Message:   msg,
	}
}

// LogSender logs messages instead of delivering them
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender used when no relay is configured
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message envelope
func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("newsletter email (no relay configured)",
		"to", msg.To,
		"from", msg.From,
		"newsletter_id", msg.NewsletterID,
		"size", len(msg.Data),
	)
	return nil
}
