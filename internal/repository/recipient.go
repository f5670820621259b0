package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/clicktrail/internal/models"
	"github.com/google/uuid"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrInvalidStatus     = errors.New("invalid status")
)

// RecipientRepository owns email_recipients rows and writes the event log
// together with the status they derive.
type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `id, email_id, contact_id, status, provider_message_id, last_event_at, created_at, updated_at`

// GetOrCreate returns the recipient for (emailID, contactID), inserting a
// queued one if none exists. created reports whether a row was inserted.
func (r *RecipientRepository) GetOrCreate(ctx context.Context, emailID, contactID string) (*models.Recipient, bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_recipients (id, email_id, contact_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email_id, contact_id) DO NOTHING`,
		uuid.New().String(), emailID, contactID, models.StatusQueued, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create recipient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create recipient: %w", err)
	}

	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM email_recipients WHERE email_id = ? AND contact_id = ?`,
		emailID, contactID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load recipient: %w", err)
	}
	return rec, n > 0, nil
}

// Get returns a recipient by ID
func (r *RecipientRepository) Get(ctx context.Context, id string) (*models.Recipient, error) {
	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM email_recipients WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return rec, nil
}

// OwnerOf returns the owner of the campaign the recipient's email belongs to.
func (r *RecipientRepository) OwnerOf(ctx context.Context, id string) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `
		SELECT c.owner_id
		FROM email_recipients er
		JOIN emails e ON e.id = er.email_id
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE er.id = ?`, id,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRecipientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get recipient owner: %w", err)
	}
	return owner, nil
}

// MarkSent records a successful hand-off to the mail transport.
func (r *RecipientRepository) MarkSent(ctx context.Context, id, providerMessageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_recipients SET status = ?, provider_message_id = ?, updated_at = ?
		WHERE id = ?`,
		models.StatusSent, providerMessageID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark recipient sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// Record appends an event and sets the recipient status to its type in one
// transaction. It returns the recipient's contact ID.
func (r *RecipientRepository) Record(ctx context.Context, recipientID string, eventType models.Status, metadata map[string]string, at time.Time) (string, error) {
	if !eventType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, eventType)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode event metadata: %w", err)
	}
	at = at.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Write first so the transaction holds the write lock before reading.
	res, err := tx.ExecContext(ctx, `
		UPDATE email_recipients SET status = ?, last_event_at = ?, updated_at = ?
		WHERE id = ?`,
		eventType, at, at, recipientID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to update recipient status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to update recipient status: %w", err)
	}
	if n == 0 {
		return "", ErrRecipientNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO track_events (id, recipient_id, event_type, occurred_at, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), recipientID, eventType, at, string(meta), at,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}

	var contactID string
	if err := tx.QueryRowContext(ctx, `SELECT contact_id FROM email_recipients WHERE id = ?`, recipientID).Scan(&contactID); err != nil {
		return "", fmt.Errorf("failed to load recipient contact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit event: %w", err)
	}
	return contactID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	rec := &models.Recipient{}
	var lastEvent sql.NullTime
	err := row.Scan(&rec.ID, &rec.EmailID, &rec.ContactID, &rec.Status, &rec.ProviderMessageID,
		&lastEvent, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastEvent.Valid {
		t := lastEvent.Time
		rec.LastEventAt = &t
	}
	return rec, nil
}
