package queue_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"taskbeat/internal/queue"
	"taskbeat/internal/services"
	"taskbeat/internal/testsupport"
)

func TestOpenCreatesDatabaseAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	health, err := reopened.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("unexpected schema version %d", health.SchemaVersion)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	db.Close()

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestInsertAssignsDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	entry := &queue.Entry{Source: "tasks.send", Payload: queue.Document{"resourceType": "Patient"}}
	if err := store.Insert(context.Background(), entry); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if entry.ID == "" || entry.Seq == 0 {
		t.Fatalf("expected generated id and seq, got %+v", entry)
	}
	if entry.Queue != queue.DefaultQueueName {
		t.Fatalf("expected default queue, got %q", entry.Queue)
	}
	if entry.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %q", entry.Status)
	}

	loaded := testsupport.MustGet(t, store, entry.ID)
	if loaded.Payload.ResourceType() != "Patient" {
		t.Fatalf("payload not persisted: %v", loaded.Payload)
	}
	if !loaded.TS.Equal(entry.TS) {
		t.Fatalf("timestamp drift: stored %s, inserted %s", loaded.TS, entry.TS)
	}
}

func TestInsertRequiresSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if err := store.Insert(context.Background(), &queue.Entry{}); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestGetMissingEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.Get(context.Background(), "nope")
	if !queue.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected services.ErrNotFound to match, got %v", err)
	}
}

func TestSaveRoundTripsOutcomeFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "tasks.send", queue.Document{"resourceType": "Patient", "id": "p1"})
	entry.PayloadHash = "abc"
	entry.SetOutcome(queue.StatusFailed, "remote said no", map[string]any{"code": 409})
	entry.AffectedResources = []queue.Reference{{ResourceType: "Patient", ID: "p1"}}
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := testsupport.MustGet(t, store, entry.ID)
	if loaded.Status != queue.StatusFailed || loaded.ProcessingMessage != "remote said no" {
		t.Fatalf("unexpected outcome: %+v", loaded)
	}
	info, ok := loaded.ProcessingInfo.(map[string]any)
	if !ok || info["code"] != float64(409) {
		t.Fatalf("unexpected processing info: %#v", loaded.ProcessingInfo)
	}
	if len(loaded.AffectedResources) != 1 || loaded.AffectedResources[0].String() != "Patient/p1" {
		t.Fatalf("unexpected affected resources: %v", loaded.AffectedResources)
	}

	loaded.SetOutcome(queue.StatusSynced, "", nil)
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cleared := testsupport.MustGet(t, store, entry.ID)
	if cleared.ProcessingMessage != "" || cleared.ProcessingInfo != nil {
		t.Fatalf("expected diagnostics cleared, got %q %#v", cleared.ProcessingMessage, cleared.ProcessingInfo)
	}
}

func TestSaveNeverReplacesPayloadHash(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "tasks.send", queue.Document{"a": 1})
	entry.PayloadHash = "first"
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entry.PayloadHash = "second"
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := testsupport.MustGet(t, store, entry.ID).PayloadHash; got != "first" {
		t.Fatalf("expected hash to stay %q, got %q", "first", got)
	}
}

func TestSaveMissingEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	err := store.Save(context.Background(), &queue.Entry{ID: "ghost", Status: queue.StatusSynced})
	if !queue.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHasDuplicatesIgnoresPendingAndDuplicated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mk := func(status queue.Status, source string) *queue.Entry {
		entry := testsupport.NewEntry(t, store, source, queue.Document{"x": 1}, testsupport.WithStatus(status))
		entry.PayloadHash = "h"
		if err := store.Save(ctx, entry); err != nil {
			t.Fatalf("Save: %v", err)
		}
		return entry
	}

	subject := mk(queue.StatusPending, "tasks.a")
	mk(queue.StatusPending, "tasks.a")
	mk(queue.StatusDuplicated, "tasks.a")
	mk(queue.StatusSynced, "tasks.b")

	dup, err := store.HasDuplicates(ctx, subject)
	if err != nil {
		t.Fatalf("HasDuplicates: %v", err)
	}
	if dup {
		t.Fatal("pending, duplicated and other-source entries must not count")
	}

	mk(queue.StatusFailed, "tasks.a")
	dup, err = store.HasDuplicates(ctx, subject)
	if err != nil {
		t.Fatalf("HasDuplicates: %v", err)
	}
	if !dup {
		t.Fatal("expected resolved entry with same source and hash to count")
	}
}

func TestListFiltersAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewEntry(t, store, "tasks.a", nil)
	testsupport.NewEntry(t, store, "tasks.a", nil, testsupport.WithStatus(queue.StatusFailed))
	testsupport.NewEntry(t, store, "tasks.b", nil, testsupport.WithQueue("Other"))

	failed, err := store.List(ctx, queue.ListFilter{Queue: queue.DefaultQueueName, Statuses: []queue.Status{queue.StatusFailed}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 || failed[0].Status != queue.StatusFailed {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	all, err := store.List(ctx, queue.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Source != "tasks.b" {
		t.Fatalf("expected newest first across queues, got %d entries", len(all))
	}

	stats, err := store.Stats(ctx, queue.DefaultQueueName)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusPending] != 1 || stats[queue.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	health, err := store.Health(ctx, "")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Claimable != 2 || health.Problem != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestSaveResourceGeneratesID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	doc := queue.Document{"resourceType": "Patient", "name": "Ann"}
	ref, err := store.SaveResource(ctx, doc)
	if err != nil {
		t.Fatalf("SaveResource: %v", err)
	}
	if ref.ResourceType != "Patient" || ref.ID == "" || doc.ID() != ref.ID {
		t.Fatalf("unexpected reference %v for %v", ref, doc)
	}

	loaded, err := store.GetResource(ctx, ref)
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if loaded["name"] != "Ann" {
		t.Fatalf("unexpected resource: %v", loaded)
	}

	if _, err := store.SaveResource(ctx, queue.Document{"name": "x"}); err == nil {
		t.Fatal("expected error for missing resourceType")
	}
}

func TestReferenceJSON(t *testing.T) {
	data, err := json.Marshal([]queue.Reference{{ResourceType: "Patient", ID: "p1"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[{"reference":"Patient/p1"}]` {
		t.Fatalf("unexpected json %s", data)
	}
	var refs []queue.Reference
	if err := json.Unmarshal([]byte(`[{"reference":"Observation/o-2"}]`), &refs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if refs[0] != (queue.Reference{ResourceType: "Observation", ID: "o-2"}) {
		t.Fatalf("unexpected reference %+v", refs[0])
	}
	if err := json.Unmarshal([]byte(`{"reference":"bad"}`), &queue.Reference{}); err == nil {
		t.Fatal("expected error for malformed reference")
	}
}

func TestDocumentKeepsLargeIntegers(t *testing.T) {
	doc := queue.Document{"n": int64(9007199254740993), "nested": map[string]any{"m": uint64(18446744073709551615)}}

	clone, err := doc.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone["n"] != json.Number("9007199254740993") {
		t.Fatalf("clone changed n: %#v", clone["n"])
	}
	nested, _ := clone["nested"].(map[string]any)
	if nested["m"] != json.Number("18446744073709551615") {
		t.Fatalf("clone changed nested m: %#v", nested["m"])
	}

	out, err := yaml.Marshal(clone)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	for _, want := range []string{"n: 9007199254740993", "m: 18446744073709551615"} {
		if !strings.Contains(string(out), want) {
			t.Fatalf("expected %q in yaml, got:\n%s", want, out)
		}
	}
}

func TestParseStatus(t *testing.T) {
	status, ok := queue.ParseStatus(" Exception ")
	if !ok || status != queue.StatusException {
		t.Fatalf("unexpected parse result %q %v", status, ok)
	}
	if _, ok := queue.ParseStatus("completed"); ok {
		t.Fatal("expected unknown status to fail")
	}
	if !queue.StatusSkipped.IsClaimable() || queue.StatusSynced.IsClaimable() {
		t.Fatal("unexpected claimable classification")
	}
	if !queue.StatusDuplicated.IsTerminal() || queue.StatusPending.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}
