package daemonrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"taskbeat/internal/beat"
	"taskbeat/internal/dispatch"
	"taskbeat/internal/logging"
	"taskbeat/internal/queue"
	"taskbeat/internal/task"
	"taskbeat/internal/testsupport"
)

func TestBuildWiresTasksAndImporter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Tasks.DefaultImmediate = false
	cfg.Importer.ResourceTypes = []string{"Patient"}

	var sent []string
	rt, err := Build(context.Background(), cfg, logging.NewNop(), func(tasks *task.Queue, _ *dispatch.Registry) error {
		_, err := tasks.Define(func(_ context.Context, doc queue.Document) (any, error) {
			sent = append(sent, doc["to"].(string))
			return nil, nil
		}, task.WithName("mail.send"))
		return err
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	if got := rt.Registry.Tasks(); len(got) != 1 || got[0] != "mail.send" {
		t.Fatalf("unexpected tasks %v", got)
	}
	if got := rt.Registry.ResourceTypes(); len(got) != 1 || got[0] != "Patient" {
		t.Fatalf("unexpected resource types %v", got)
	}
	if len(rt.Sources) != 0 {
		t.Fatalf("expected no beat sources without interval or redis, got %d", len(rt.Sources))
	}

	mail, ok := rt.Tasks.Lookup("mail.send")
	if !ok {
		t.Fatal("expected mail.send to be defined")
	}
	entry, err := mail.Delay(context.Background(), queue.Document{"to": "ann@example.com"})
	if err != nil {
		t.Fatalf("Delay: %v", err)
	}

	result, err := rt.Poller.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if result.Decision != beat.DecisionClaim || result.Dispatched != 1 {
		t.Fatalf("unexpected cycle result %+v", result)
	}
	if len(sent) != 1 || sent[0] != "ann@example.com" {
		t.Fatalf("task not invoked: %v", sent)
	}
	if got := testsupport.MustGet(t, rt.Store, entry.ID); got.Status != queue.StatusSynced {
		t.Fatalf("expected synced, got %s", got.Status)
	}
}

func TestBuildAddsTickerAndSkipsUnreachableRedis(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Beat.IntervalSeconds = 30
	cfg.Beat.RedisURL = "redis://127.0.0.1:1/0"

	rt, err := Build(context.Background(), cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	if len(rt.Sources) != 1 || rt.Sources[0].Name() != "ticker" {
		t.Fatalf("expected only the ticker source, got %d sources", len(rt.Sources))
	}
}

func TestBuildSurfacesDefineError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	boom := errors.New("boom")

	_, err := Build(context.Background(), cfg, logging.NewNop(), func(*task.Queue, *dispatch.Registry) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected define error, got %v", err)
	}
}

func TestRunPreflightFailsOnMissingDataDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "missing")
	cfg.API.Bind = ""

	err := runPreflight(context.Background(), cfg, logging.NewNop())
	if err == nil || !strings.Contains(err.Error(), "Data directory") {
		t.Fatalf("expected data directory failure, got %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbeat.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file contents %q", data)
	}
}
