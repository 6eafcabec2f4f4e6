package journal

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/guardian/cds-k8s/internal/logging"
)

func newTestJournal(t *testing.T) (*Journal, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	log, err := logging.New("dev")
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	port, err := strconv.Atoi(srv.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	j, err := Connect(context.Background(), Config{Host: srv.Host(), Port: port}, log, 1)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j, srv
}

func TestJournalRoundTrip(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()

	if _, ok := j.MostRecentEvent(ctx); ok {
		t.Fatal("expected no cursor before anything has been recorded")
	}

	if err := j.RecordProcessed(ctx, "12345"); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}

	got, ok := j.MostRecentEvent(ctx)
	if !ok || got != "12345" {
		t.Fatalf("got %q, %v, want 12345, true", got, ok)
	}
}

func TestJournalClear(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()

	if err := j.RecordProcessed(ctx, "999"); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}
	if err := j.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := j.MostRecentEvent(ctx); ok {
		t.Fatal("expected no cursor after Clear")
	}
}
