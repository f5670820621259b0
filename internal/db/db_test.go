package db

import (
	"path/filepath"
	"testing"
)

func TestNewCreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clicktrail.db")

	d, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Second run must be a no-op
	if err := d.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	tables := []string{"campaigns", "audiences", "contacts", "emails", "email_recipients", "track_events"}
	for _, name := range tables {
		var got string
		err := d.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&got)
		if err != nil {
			t.Errorf("table %s missing: %v", name, err)
		}
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	d, err := New(filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Migrate(); err != nil {
		t.Fatal(err)
	}

	_, err = d.Exec(`INSERT INTO track_events (id, recipient_id, event_type, occurred_at) VALUES ('e1', 'missing', 'clicked', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Error("insert with unknown recipient succeeded, want foreign key error")
	}
}
