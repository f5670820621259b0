package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/foxzi/clicktrail/internal/models"
)

// EventRepository reads the engagement log. Events are written only through
// RecipientRepository.Record.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListByRecipient returns a recipient's events in occurrence order
func (r *EventRepository) ListByRecipient(ctx context.Context, recipientID string) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient_id, event_type, occurred_at, metadata, created_at
		FROM track_events WHERE recipient_id = ?
		ORDER BY occurred_at, rowid`, recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var e models.Event
		var meta string
		if err := rows.Scan(&e.ID, &e.RecipientID, &e.Type, &e.OccurredAt, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode event metadata: %w", err)
			}
		}
		if e.Metadata == nil {
			e.Metadata = map[string]string{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
