package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/clicktrail/internal/models"
	"github.com/google/uuid"
)

var ErrEmailNotFound = errors.New("email not found")

type EmailRepository struct {
	db *sql.DB
}

func NewEmailRepository(db *sql.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

// Create creates a new draft email
func (r *EmailRepository) Create(ctx context.Context, e *models.Email) error {
	e.ID = uuid.New().String()
	if e.Status == "" {
		e.Status = "draft"
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt

	var audience any
	if e.AudienceID != "" {
		audience = e.AudienceID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emails (id, campaign_id, audience_id, subject, from_email, from_name, reply_to, content_text, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, audience, e.Subject, e.FromEmail, e.FromName, e.ReplyTo, e.ContentText, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create email: %w", err)
	}
	return nil
}

// GetWithOwners returns an email joined with its campaign and audience owners
func (r *EmailRepository) GetWithOwners(ctx context.Context, id string) (*models.EmailWithOwners, error) {
	e := &models.EmailWithOwners{}
	var audienceID, audienceOwner sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT e.id, e.campaign_id, e.audience_id, e.subject, e.from_email, e.from_name, e.reply_to,
			e.content_text, e.status, e.created_at, e.updated_at, c.owner_id, a.owner_id
		FROM emails e
		JOIN campaigns c ON c.id = e.campaign_id
		LEFT JOIN audiences a ON a.id = e.audience_id
		WHERE e.id = ?`, id,
	).Scan(&e.ID, &e.CampaignID, &audienceID, &e.Subject, &e.FromEmail, &e.FromName, &e.ReplyTo,
		&e.ContentText, &e.Status, &e.CreatedAt, &e.UpdatedAt, &e.CampaignOwnerID, &audienceOwner)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	e.AudienceID = audienceID.String
	e.AudienceOwnerID = audienceOwner.String
	return e, nil
}
