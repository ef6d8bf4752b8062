package services_test

import (
	"context"
	"testing"

	"taskbeat/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithQueue(ctx, "TaskQueue")
	ctx = services.WithEntryID(ctx, "e-1")
	ctx = services.WithSource(ctx, "importer.patient")
	ctx = services.WithRequestID(ctx, "req-123")

	if name, ok := services.QueueFromContext(ctx); !ok || name != "TaskQueue" {
		t.Fatalf("unexpected queue: %v %v", name, ok)
	}
	if id, ok := services.EntryIDFromContext(ctx); !ok || id != "e-1" {
		t.Fatalf("unexpected entry id: %v %v", id, ok)
	}
	if source, ok := services.SourceFromContext(ctx); !ok || source != "importer.patient" {
		t.Fatalf("unexpected source: %v %v", source, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithEntryID(context.Background(), "")
	if _, ok := services.EntryIDFromContext(ctx); ok {
		t.Fatal("expected no entry id value")
	}
}
