package models

import "time"

// Status is the engagement state of a recipient. Events carry the same values.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusBounced      Status = "bounced"
	StatusComplained   Status = "complained"
	StatusUnsubscribed Status = "unsubscribed"
	StatusOpened       Status = "opened"
	StatusClicked      Status = "clicked"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusDelivered, StatusBounced,
		StatusComplained, StatusUnsubscribed, StatusOpened, StatusClicked:
		return true
	}
	return false
}

// Recipient links one email to one contact and holds its current status
type Recipient struct {
	ID                string     `json:"id"`
	EmailID           string     `json:"email_id"`
	ContactID         string     `json:"contact_id"`
	Status            Status     `json:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	LastEventAt       *time.Time `json:"last_event_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Event is an append-only engagement record
type Event struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Type        Status            `json:"event_type"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}
