package models

import "time"

// Campaign groups emails of one owner
type Campaign struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Audience is a named set of contacts
type Audience struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact statuses
const (
	ContactActive       = "active"
	ContactArchived     = "archived"
	ContactUnsubscribed = "unsubscribed"
	ContactBounced      = "bounced"
)

// Contact is a member of an audience
type Contact struct {
	ID         string    `json:"id"`
	AudienceID string    `json:"audience_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Status     string    `json:"status"` // active, archived, unsubscribed, bounced
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Email is a draft message of a campaign
type Email struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	AudienceID  string    `json:"audience_id,omitempty"` // empty when not assigned
	Subject     string    `json:"subject"`
	FromEmail   string    `json:"from_email"`
	FromName    string    `json:"from_name"`
	ReplyTo     string    `json:"reply_to"`
	ContentText string    `json:"content_text"`
	Status      string    `json:"status"` // draft, scheduled, sent
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmailWithOwners carries the owners the send path checks against
type EmailWithOwners struct {
	Email
	CampaignOwnerID string `json:"campaign_owner_id"`
	AudienceOwnerID string `json:"audience_owner_id,omitempty"`
}
