package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	// Vectors without observations are not gathered, plain metrics are
	if len(families) == 0 {
		t.Error("no metric families gathered")
	}
}

func TestTrackingCounters(t *testing.T) {
	m := New()

	m.IncTrackingEvent("clicked")
	m.IncTrackingEvent("clicked")
	m.IncTrackingEvent("unsubscribed")
	m.IncTrackingRejected("click", "invalid_signature")
	m.IncSuppressionFailure()

	if got := testutil.ToFloat64(m.TrackingEventsTotal.WithLabelValues("clicked")); got != 2 {
		t.Errorf("clicked events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TrackingEventsTotal.WithLabelValues("unsubscribed")); got != 1 {
		t.Errorf("unsubscribed events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TrackingRejectedTotal.WithLabelValues("click", "invalid_signature")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SuppressionFailuresTotal); got != 1 {
		t.Errorf("suppression failures = %v, want 1", got)
	}
}

func TestSendCounters(t *testing.T) {
	m := New()

	m.IncMessagesSent()
	m.IncMessagesFailed("transport")
	m.IncMessagesFailed("transport")

	if got := testutil.ToFloat64(m.MessagesSentTotal); got != 1 {
		t.Errorf("sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesFailedTotal.WithLabelValues("transport")); got != 2 {
		t.Errorf("failed = %v, want 2", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	// None of these may panic
	m.IncTrackingEvent("clicked")
	m.IncTrackingRejected("click", "missing_parameters")
	m.IncSuppressionFailure()
	m.IncMessagesSent()
	m.IncMessagesFailed("transport")
}

func TestCollector(t *testing.T) {
	m := New()
	dbPath := filepath.Join(t.TempDir(), "clicktrail.db")
	if err := os.WriteFile(dbPath, make([]byte, 1024), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dbPath+"-wal", make([]byte, 512), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewCollector(m, dbPath, time.Hour)
	c.Start(context.Background())
	c.Stop()

	if got := testutil.ToFloat64(m.DatabaseSizeBytes); got != 1536 {
		t.Errorf("database size = %v, want 1536", got)
	}
	if got := testutil.ToFloat64(m.Goroutines); got < 1 {
		t.Errorf("goroutines = %v, want >= 1", got)
	}
}
