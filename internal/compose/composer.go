// Package compose renders campaign emails for a single recipient and hands
// them to the mail transport.
package compose

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/foxzi/clicktrail/internal/metrics"
	"github.com/foxzi/clicktrail/internal/models"
	"github.com/foxzi/clicktrail/internal/repository"
	"github.com/foxzi/clicktrail/internal/rewrite"
	"github.com/foxzi/clicktrail/internal/transport"
)

var (
	ErrEmailNotFound    = errors.New("email not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoAudience       = errors.New("email has no audience")
	ErrNoContacts       = errors.New("audience has no active contacts")
	ErrContactNoAddress = errors.New("contact has no email address")
	ErrTransport        = errors.New("transport failed")
)

const (
	defaultSubject      = "(no subject)"
	listUnsubscribePost = "List-Unsubscribe=One-Click"
	resultStatusSent    = "sent"
)

// EmailStore loads emails with the owners of their campaign and audience
type EmailStore interface {
	GetWithOwners(ctx context.Context, id string) (*models.EmailWithOwners, error)
}

// ContactStore selects the contact a test send goes to
type ContactStore interface {
	FirstActive(ctx context.Context, audienceID string) (*models.Contact, error)
}

// RecipientStore creates recipients and records successful sends
type RecipientStore interface {
	GetOrCreate(ctx context.Context, emailID, contactID string) (*models.Recipient, bool, error)
	MarkSent(ctx context.Context, id, providerMessageID string) error
}

// LinkRewriter rewrites hrefs into tracked links and builds unsubscribe URLs
type LinkRewriter interface {
	Rewrite(body, recipientID, label string) string
	UnsubscribeURL(recipientID string) string
}

// Result describes a completed test send
type Result struct {
	Status      string `json:"status"`
	To          string `json:"to"`
	RecipientID string `json:"recipient_id"`
}

// Options configures a Composer
type Options struct {
	DefaultFrom      string
	UnsubscribeLabel string
}

// Composer sends test emails to the first active contact of an audience
type Composer struct {
	emails     EmailStore
	contacts   ContactStore
	recipients RecipientStore
	rewriter   LinkRewriter
	sender     transport.Sender
	opts       Options
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a composer. m may be nil.
func New(emails EmailStore, contacts ContactStore, recipients RecipientStore, rewriter LinkRewriter,
	sender transport.Sender, opts Options, m *metrics.Metrics, logger *slog.Logger) *Composer {
	if opts.UnsubscribeLabel == "" {
		opts.UnsubscribeLabel = rewrite.DefaultUnsubscribeLabel
	}
	return &Composer{
		emails:     emails,
		contacts:   contacts,
		recipients: recipients,
		rewriter:   rewriter,
		sender:     sender,
		opts:       opts,
		metrics:    m,
		logger:     logger.With("component", "composer"),
	}
}

// SendTest sends emailID to one contact of its audience on behalf of ownerID.
// The recipient stays queued when the transport fails.
func (c *Composer) SendTest(ctx context.Context, ownerID, emailID string) (*Result, error) {
	email, err := c.emails.GetWithOwners(ctx, emailID)
	if errors.Is(err, repository.ErrEmailNotFound) {
		return nil, ErrEmailNotFound
	}
	if err != nil {
		return nil, err
	}

	if email.CampaignOwnerID != ownerID {
		return nil, ErrPermissionDenied
	}
	if email.AudienceID == "" {
		return nil, ErrNoAudience
	}
	if email.AudienceOwnerID != ownerID {
		return nil, ErrPermissionDenied
	}

	contact, err := c.contacts.FirstActive(ctx, email.AudienceID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, ErrNoContacts
	}
	to := strings.TrimSpace(contact.Email)
	if to == "" {
		return nil, ErrContactNoAddress
	}

	recipient, created, err := c.recipients.GetOrCreate(ctx, email.ID, contact.ID)
	if err != nil {
		return nil, err
	}

	msg := c.message(email, recipient.ID, to)

	messageID, err := c.sender.Send(ctx, msg)
	if err != nil {
		c.metrics.IncMessagesFailed("transport")
		c.logger.Error("test send failed",
			"email_id", email.ID,
			"recipient_id", recipient.ID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.metrics.IncMessagesSent()

	// The message is already out; a failed status write is logged, not returned.
	if err := c.recipients.MarkSent(ctx, recipient.ID, messageID); err != nil {
		c.logger.Error("failed to mark recipient sent",
			"email_id", email.ID,
			"recipient_id", recipient.ID,
			"message_id", messageID,
			"error", err,
		)
	}

	c.logger.Info("test email sent",
		"email_id", email.ID,
		"recipient_id", recipient.ID,
		"new_recipient", created,
		"message_id", messageID,
	)

	return &Result{Status: resultStatusSent, To: to, RecipientID: recipient.ID}, nil
}

func (c *Composer) message(email *models.EmailWithOwners, recipientID, to string) *transport.Message {
	subject := email.Subject
	if subject == "" {
		subject = defaultSubject
	}

	from := c.opts.DefaultFrom
	if email.FromEmail != "" {
		from = transport.FormatAddress(email.FromName, email.FromEmail)
	}

	body := c.rewriter.Rewrite(RenderHTML(email.ContentText), recipientID, c.opts.UnsubscribeLabel)

	return &transport.Message{
		From:    from,
		To:      to,
		ReplyTo: email.ReplyTo,
		Subject: subject,
		HTML:    body,
		Text:    email.ContentText,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + c.rewriter.UnsubscribeURL(recipientID) + ">",
			"List-Unsubscribe-Post": listUnsubscribePost,
		},
	}
}

// RenderHTML wraps escaped plain text in a div, turning newlines into <br>.
func RenderHTML(text string) string {
	escaped := html.EscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return "<div>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</div>"
}
