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

var ErrContactNotFound = errors.New("contact not found")

type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create creates a new contact
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	c.ID = uuid.New().String()
	if c.Status == "" {
		c.Status = models.ContactActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, audience_id, email, first_name, last_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AudienceID, c.Email, c.FirstName, c.LastName, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetByID returns a contact by ID, or nil if it does not exist
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	c := &models.Contact{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, audience_id, email, first_name, last_name, status, created_at, updated_at
		FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.AudienceID, &c.Email, &c.FirstName, &c.LastName, &c.Status, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FirstActive returns the oldest active contact of an audience, or nil
func (r *ContactRepository) FirstActive(ctx context.Context, audienceID string) (*models.Contact, error) {
	c := &models.Contact{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, audience_id, email, first_name, last_name, status, created_at, updated_at
		FROM contacts WHERE audience_id = ? AND status = ?
		ORDER BY created_at, id LIMIT 1`, audienceID, models.ContactActive,
	).Scan(&c.ID, &c.AudienceID, &c.Email, &c.FirstName, &c.LastName, &c.Status, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select contact: %w", err)
	}
	return c, nil
}

// Suppress marks a contact unsubscribed so later sends skip it.
func (r *ContactRepository) Suppress(ctx context.Context, contactID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET status = ?, updated_at = ? WHERE id = ?`,
		models.ContactUnsubscribed, time.Now().UTC(), contactID,
	)
	if err != nil {
		return fmt.Errorf("failed to suppress contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}
	return nil
}
