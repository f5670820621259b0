package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/foxzi/clicktrail/internal/db"
	"github.com/foxzi/clicktrail/internal/models"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens a migrated SQLite database in a temp dir. A file is used
// instead of :memory: so every pooled connection sees the same data.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	d, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate())
	return d.DB
}

type fixture struct {
	campaign *models.Campaign
	audience *models.Audience
	contact  *models.Contact
	email    *models.Email
}

func seed(t *testing.T, conn *sql.DB, owner string) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{
		campaign: &models.Campaign{OwnerID: owner, Name: "Spring"},
		audience: &models.Audience{OwnerID: owner, Name: "Customers"},
	}
	require.NoError(t, NewCampaignRepository(conn).Create(ctx, f.campaign))
	require.NoError(t, NewAudienceRepository(conn).Create(ctx, f.audience))

	f.contact = &models.Contact{AudienceID: f.audience.ID, Email: "ann@example.com", FirstName: "Ann"}
	require.NoError(t, NewContactRepository(conn).Create(ctx, f.contact))

	f.email = &models.Email{
		CampaignID:  f.campaign.ID,
		AudienceID:  f.audience.ID,
		Subject:     "Hello",
		ContentText: "Visit https://example.com",
	}
	require.NoError(t, NewEmailRepository(conn).Create(ctx, f.email))
	return f
}
