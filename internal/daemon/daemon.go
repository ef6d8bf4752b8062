package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"taskbeat/internal/beat"
	"taskbeat/internal/config"
	"taskbeat/internal/dispatch"
	"taskbeat/internal/logging"
	"taskbeat/internal/queue"
	"taskbeat/internal/task"
)

// Deps are the components the daemon runs.
type Deps struct {
	Store    *queue.Store
	Registry *dispatch.Registry
	Poller   *beat.Poller
	Tasks    *task.Queue
	Sources  []beat.Source
}

// Daemon coordinates the poller, beat sources and API server, and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	registry *dispatch.Registry
	poller   *beat.Poller
	tasks    *task.Queue
	sources  []beat.Source
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	sourcesWG sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool                `json:"running"`
	PID           int                 `json:"pid"`
	Queue         string              `json:"queue"`
	QueueDBPath   string              `json:"queueDbPath"`
	LockFilePath  string              `json:"lockFilePath"`
	Health        queue.HealthSummary `json:"health"`
	Tasks         []string            `json:"tasks"`
	ResourceTypes []string            `json:"resourceTypes"`
	Sources       []string            `json:"sources"`
	InFlight      int                 `json:"inFlight"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Registry == nil || deps.Poller == nil || deps.Tasks == nil {
		return nil, errors.New("daemon requires config, store, registry, poller, and task queue")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    deps.Store,
		registry: deps.Registry,
		poller:   deps.Poller,
		tasks:    deps.Tasks,
		sources:  deps.Sources,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, freezes the registry, and starts the API
// server and beat sources.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another taskbeat daemon instance is already running")
	}

	d.registry.Freeze()
	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}

	for _, src := range d.sources {
		d.sourcesWG.Add(1)
		go func(src beat.Source) {
			defer d.sourcesWG.Done()
			if err := src.Run(d.ctx, d.trigger); err != nil {
				logging.WarnWithContext(d.logger, "beat source stopped", "beat_source_failed",
					logging.String("source_name", src.Name()),
					logging.Error(err),
					logging.String(logging.FieldImpact, "beats from this source are no longer received"),
					logging.String(logging.FieldErrorHint, "check the source configuration and restart the daemon"),
				)
			}
		}(src)
	}

	d.running.Store(true)
	d.logger.Info("taskbeat daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldQueue, d.poller.QueueName()),
		logging.Int("tasks", len(d.registry.Tasks())),
		logging.Int("sources", len(d.sources)),
	)
	return nil
}

// Stop stops the beat sources and API server, waits for running cycles and
// background dispatches, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.sourcesWG.Wait()
	d.poller.Wait()
	d.tasks.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a new daemon may refuse to start until the lock file is removed"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("taskbeat daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Beat starts a poll cycle for queueName. An empty name beats the daemon's
// queue. It returns nil when the daemon does not serve that queue.
func (d *Daemon) Beat(ctx context.Context, queueName string) *beat.Run {
	if queueName != "" && queueName != d.poller.QueueName() {
		return nil
	}
	return d.poller.Beat(ctx)
}

func (d *Daemon) trigger(queueName string) {
	ctx := d.ctx
	if ctx == nil {
		return
	}
	if d.Beat(ctx, queueName) == nil {
		d.logger.Debug("beat for unknown queue ignored", logging.String(logging.FieldQueue, queueName))
	}
}

// QueueName returns the served queue.
func (d *Daemon) QueueName() string {
	return d.poller.QueueName()
}

// Store returns the queue store.
func (d *Daemon) Store() *queue.Store {
	return d.store
}

// Tasks returns the producer for the served queue.
func (d *Daemon) Tasks() *task.Queue {
	return d.tasks
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		Queue:         d.poller.QueueName(),
		QueueDBPath:   d.store.Path(),
		LockFilePath:  d.lockPath,
		Tasks:         d.registry.Tasks(),
		ResourceTypes: d.registry.ResourceTypes(),
		InFlight:      len(d.poller.Tracker().Previous()),
	}
	for _, src := range d.sources {
		status.Sources = append(status.Sources, src.Name())
	}
	if health, err := d.store.Health(ctx, d.poller.QueueName()); err == nil {
		status.Health = health
	} else {
		logging.WarnWithContext(d.logger, "queue health unavailable", "queue_health_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status reports zero counts"),
		)
	}
	return status
}

// APIAddr returns the bound API address once started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}
