package archive

import (
	"context"
	"testing"
	"time"

	appconfig "raffleflow/config"
	"raffleflow/models"
)

func TestObjectKey(t *testing.T) {
	ts := time.Date(2025, 3, 9, 14, 30, 5, 0, time.UTC)
	got := objectKey("rounds", "abc-123", ts)
	want := "rounds/abc-123/20250309T143005Z.json"
	if got != want {
		t.Errorf("objectKey = %s, want %s", got, want)
	}

	// No prefix configured.
	got = objectKey("", "abc-123", ts)
	want = "abc-123/20250309T143005Z.json"
	if got != want {
		t.Errorf("objectKey = %s, want %s", got, want)
	}
}

func TestNewWriterDisabled(t *testing.T) {
	w, err := NewWriter(appconfig.S3Config{Enabled: false})
	if err != nil {
		t.Fatalf("disabled writer must not error: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil writer when disabled")
	}
	// A nil writer is safe to call.
	if err := w.ArchiveRound(context.Background(), models.NewLedger()); err != nil {
		t.Errorf("nil writer archive: %v", err)
	}
}
