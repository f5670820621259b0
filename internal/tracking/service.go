// Package tracking resolves signed click and unsubscribe links.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/foxzi/clicktrail/internal/metrics"
	"github.com/foxzi/clicktrail/internal/models"
	"github.com/foxzi/clicktrail/internal/repository"
	"github.com/foxzi/clicktrail/internal/rewrite"
	"github.com/foxzi/clicktrail/internal/signature"
)

var (
	ErrMissingParams    = errors.New("missing parameters")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidMarker    = errors.New("payload is not the unsubscribe marker")
	ErrUnsafeTarget     = errors.New("unsafe redirect target")
)

// Recorder appends an event and updates the recipient status atomically,
// returning the recipient's contact ID.
type Recorder interface {
	Record(ctx context.Context, recipientID string, eventType models.Status, metadata map[string]string, at time.Time) (string, error)
}

// Suppressor excludes a contact from future sends.
type Suppressor interface {
	Suppress(ctx context.Context, contactID string) error
}

// Request carries the query parameters of a tracking hit and the client it
// came from.
type Request struct {
	RecipientID string
	Token       string
	Signature   string
	IP          string
	UserAgent   string
}

// Service validates tracking links and records the resulting events.
type Service struct {
	signer     *signature.Signer
	recorder   Recorder
	suppressor Suppressor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a gateway service. suppressor and m may be nil.
func NewService(signer *signature.Signer, recorder Recorder, suppressor Suppressor, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		signer:     signer,
		recorder:   recorder,
		suppressor: suppressor,
		metrics:    m,
		logger:     logger.With("component", "tracking"),
		now:        time.Now,
	}
}

// verify checks presence, decodes the token and checks its signature. It
// returns the decoded payload.
func (s *Service) verify(req Request) (string, error) {
	if req.RecipientID == "" || req.Token == "" || req.Signature == "" {
		return "", ErrMissingParams
	}
	payload, err := signature.Decode(req.Token)
	if err != nil {
		return "", err
	}
	if !s.signer.Verify(req.RecipientID, payload, req.Signature) {
		return "", ErrInvalidSignature
	}
	return payload, nil
}

// Click records a click and returns the URL to redirect to.
func (s *Service) Click(ctx context.Context, req Request) (string, error) {
	target, err := s.verify(req)
	if err != nil {
		return "", err
	}
	if !safeTarget(target) {
		return "", ErrUnsafeTarget
	}

	meta := clientMetadata(req)
	meta["url"] = target
	if _, err := s.recorder.Record(ctx, req.RecipientID, models.StatusClicked, meta, s.now()); err != nil {
		return "", fmt.Errorf("failed to record click: %w", err)
	}
	s.metrics.IncTrackingEvent(string(models.StatusClicked))
	return target, nil
}

// Unsubscribe records an unsubscribe and then suppresses the contact. A
// suppression failure is logged and does not fail the request.
func (s *Service) Unsubscribe(ctx context.Context, req Request) error {
	payload, err := s.verify(req)
	if err != nil {
		return err
	}
	if payload != rewrite.UnsubscribeMarker {
		return ErrInvalidMarker
	}

	contactID, err := s.recorder.Record(ctx, req.RecipientID, models.StatusUnsubscribed, clientMetadata(req), s.now())
	if err != nil {
		return fmt.Errorf("failed to record unsubscribe: %w", err)
	}
	s.metrics.IncTrackingEvent(string(models.StatusUnsubscribed))

	if s.suppressor != nil {
		if err := s.suppressor.Suppress(ctx, contactID); err != nil {
			s.metrics.IncSuppressionFailure()
			s.logger.Warn("contact suppression failed",
				"recipient_id", req.RecipientID,
				"contact_id", contactID,
				"error", err,
			)
		}
	}
	return nil
}

func clientMetadata(req Request) map[string]string {
	meta := map[string]string{}
	if req.IP != "" {
		meta["ip"] = req.IP
	}
	if req.UserAgent != "" {
		meta["user_agent"] = req.UserAgent
	}
	return meta
}

// safeTarget allows only absolute http(s) URLs with a host.
func safeTarget(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	return u.Host != ""
}

// rejectReason maps an error to the metric label for a rejected request.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingParams):
		return "missing_parameters"
	case errors.Is(err, signature.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidMarker):
		return "invalid_marker"
	case errors.Is(err, ErrUnsafeTarget):
		return "unsafe_target"
	case errors.Is(err, repository.ErrRecipientNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
