package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"taskbeat/internal/config"
	"taskbeat/internal/daemon"
	"taskbeat/internal/daemonrun"
	"taskbeat/internal/dispatch"
	"taskbeat/internal/logging"
	"taskbeat/internal/queue"
	"taskbeat/internal/task"
	"taskbeat/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	tasks      *task.Queue
	daemon     *daemon.Daemon
	configPath string
	apiAddr    string

	mu   sync.Mutex
	sent []string
}

func (e *cliTestEnv) sentTo() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sent...)
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	cfg := testsupport.NewConfig(t)
	cfg.Tasks.DefaultImmediate = false

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{cfg: cfg, configPath: configPath}
	logger := logging.NewNop()
	rt, err := daemonrun.Build(context.Background(), cfg, logger, func(tasks *task.Queue, _ *dispatch.Registry) error {
		_, err := tasks.Define(func(_ context.Context, doc queue.Document) (any, error) {
			to, _ := doc["to"].(string)
			env.mu.Lock()
			env.sent = append(env.sent, to)
			env.mu.Unlock()
			return nil, nil
		}, task.WithName("mail.send"))
		return err
	})
	if err != nil {
		t.Fatalf("daemonrun.Build: %v", err)
	}

	d, err := daemon.New(cfg, rt.Deps(), logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	env.store = rt.Store
	env.tasks = rt.Tasks
	env.daemon = d
	env.apiAddr = d.APIAddr()

	t.Cleanup(func() {
		cancel()
		d.Close()
		rt.Close()
	})
	return env
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	return runCLIWith(t, env.configPath, env.apiAddr, args...)
}

func runCLIWith(t *testing.T, configPath, apiAddr string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	if apiAddr != "" {
		flags = append(flags, "--api", apiAddr)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
