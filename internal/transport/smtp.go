package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// TLS modes for the relay connection
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// RelayConfig describes the outbound SMTP relay
type RelayConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      string
	Hello    string
	Timeout  time.Duration

	// InsecureSkipVerify is used by tests against self-signed relays.
	InsecureSkipVerify bool
}

// DeliveryError represents a relay failure with type information
type DeliveryError struct {
	Temporary bool
	Stage     string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Relay sends messages through a single configured SMTP server
type Relay struct {
	cfg    RelayConfig
	signer Signer
	logger *slog.Logger
}

// NewRelay creates a relay sender. signer may be nil.
func NewRelay(cfg RelayConfig, signer Signer, logger *slog.Logger) *Relay {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hello == "" {
		cfg.Hello = "localhost"
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	return &Relay{
		cfg:    cfg,
		signer: signer,
		logger: logger.With("component", "smtp_relay"),
	}
}

// Send builds, optionally signs and submits msg.
func (r *Relay) Send(ctx context.Context, msg *Message) (string, error) {
	data, messageID := Build(msg)

	if r.signer != nil {
		signed, err := r.signer.Sign(data)
		if err != nil {
			r.logger.Warn("DKIM signing failed, sending unsigned", "error", err)
		} else {
			data = signed
		}
	}

	if err := r.deliver(ctx, EnvelopeAddress(msg.From), EnvelopeAddress(msg.To), data); err != nil {
		return "", err
	}

	r.logger.Info("message relayed",
		"host", r.cfg.Host,
		"to", msg.To,
		"message_id", messageID,
	)
	return messageID, nil
}

func (r *Relay) deliver(ctx context.Context, from, to string, data []byte) error {
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         r.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: r.cfg.InsecureSkipVerify,
	}

	dialer := &net.Dialer{Timeout: r.cfg.Timeout}
	var conn net.Conn
	var err error
	if r.cfg.TLS == TLSImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return &DeliveryError{Temporary: true, Stage: "connect", Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(r.cfg.Timeout))
	}

	// NewClientStartTLS greets as "localhost" before the upgrade; the
	// configured hello name is sent on the encrypted session.
	var client *smtp.Client
	if r.cfg.TLS == TLSStartTLS {
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return categorize("STARTTLS", err)
		}
	} else {
		client = smtp.NewClient(conn)
	}
	defer client.Close()

	if err := client.Hello(r.cfg.Hello); err != nil {
		return categorize("HELO", err)
	}

	if r.cfg.Username != "" {
		auth := sasl.NewPlainClient("", r.cfg.Username, r.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return categorize("AUTH", err)
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return categorize("MAIL FROM", err)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return categorize("RCPT TO", err)
	}

	wc, err := client.Data()
	if err != nil {
		return categorize("DATA", err)
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{Temporary: true, Stage: "DATA write", Err: err}
	}
	if err := wc.Close(); err != nil {
		return categorize("DATA close", err)
	}

	client.Quit()
	return nil
}

// categorize marks 4xx replies and network errors as temporary.
func categorize(stage string, err error) *DeliveryError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{Temporary: smtpErr.Code/100 == 4, Stage: stage, Err: err}
	}
	return &DeliveryError{Temporary: true, Stage: stage, Err: err}
}
