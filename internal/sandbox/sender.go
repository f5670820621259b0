package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/foxzi/clicktrail/internal/transport"
	"github.com/google/uuid"
)

// Sender implements transport.Sender by capturing messages into storage.
type Sender struct {
	storage *Storage
	signer  transport.Signer
	logger  *slog.Logger
}

// NewSender creates a capturing sender. signer may be nil.
func NewSender(storage *Storage, signer transport.Signer, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{
		storage: storage,
		signer:  signer,
		logger:  logger.With("component", "sandbox"),
	}
}

// Send stores the rendered message and returns its Message-ID.
func (s *Sender) Send(ctx context.Context, msg *transport.Message) (string, error) {
	data, messageID := transport.Build(msg)

	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, capturing unsigned", "error", err)
		} else {
			data = signed
		}
	}

	captured := &Message{
		ID:         uuid.New().String(),
		MessageID:  messageID,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		Domain:     transport.ExtractDomain(msg.From),
		Headers:    msg.Headers,
		Data:       data,
		CapturedAt: time.Now(),
	}
	if err := s.storage.Save(ctx, captured); err != nil {
		return "", fmt.Errorf("failed to capture message: %w", err)
	}

	s.logger.Info("sandbox: captured message",
		"id", captured.ID,
		"to", msg.To,
		"message_id", messageID,
	)
	return messageID, nil
}
