package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/clicktrail/internal/models"
	"github.com/google/uuid"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, owner_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

type AudienceRepository struct {
	db *sql.DB
}

func NewAudienceRepository(db *sql.DB) *AudienceRepository {
	return &AudienceRepository{db: db}
}

// Create creates a new audience
func (r *AudienceRepository) Create(ctx context.Context, a *models.Audience) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audiences (id, owner_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Name, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audience: %w", err)
	}
	return nil
}
