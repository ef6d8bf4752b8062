package testsupport

import (
	"context"
	"testing"
	"time"

	"taskbeat/internal/config"
	"taskbeat/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EntryOption customizes an entry created by NewEntry.
type EntryOption func(*queue.Entry)

// WithPriority sets the entry priority.
func WithPriority(priority int) EntryOption {
	return func(e *queue.Entry) { e.Priority = priority }
}

// WithStatus sets the entry status.
func WithStatus(status queue.Status) EntryOption {
	return func(e *queue.Entry) { e.Status = status }
}

// WithTS sets the entry timestamp.
func WithTS(ts time.Time) EntryOption {
	return func(e *queue.Entry) { e.TS = ts }
}

// WithProcessing marks the entry as already claimed.
func WithProcessing() EntryOption {
	return func(e *queue.Entry) { e.Processing = true }
}

// WithQueue places the entry in a named queue.
func WithQueue(name string) EntryOption {
	return func(e *queue.Entry) { e.Queue = name }
}

// NewEntry inserts a pending entry for tests using the provided store.
func NewEntry(t testing.TB, store *queue.Store, source string, payload queue.Document, opts ...EntryOption) *queue.Entry {
	t.Helper()

	entry := &queue.Entry{
		Source:   source,
		Priority: 10,
		Payload:  payload,
	}
	for _, opt := range opts {
		opt(entry)
	}
	if err := store.Insert(context.Background(), entry); err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return entry
}

// MustGet reloads an entry, failing the test when it is missing.
func MustGet(t testing.TB, store *queue.Store, id string) *queue.Entry {
	t.Helper()

	entry, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get(%s): %v", id, err)
	}
	return entry
}
