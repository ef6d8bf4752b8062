package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"taskbeat/internal/beat"
	"taskbeat/internal/config"
	"taskbeat/internal/daemon"
	"taskbeat/internal/dispatch"
	"taskbeat/internal/importer"
	"taskbeat/internal/logging"
	"taskbeat/internal/preflight"
	"taskbeat/internal/queue"
	"taskbeat/internal/task"
)

// DefineFunc registers application tasks and resource-type mappings before
// the registry is frozen.
type DefineFunc func(tasks *task.Queue, registry *dispatch.Registry) error

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Define      DefineFunc
}

// Runtime is the assembled set of queue components behind a daemon.
type Runtime struct {
	Store      *queue.Store
	Registry   *dispatch.Registry
	Dispatcher *dispatch.Dispatcher
	Tasks      *task.Queue
	Poller     *beat.Poller
	Sources    []beat.Source

	closers []func() error
}

// Build opens the store and wires registry, dispatcher, task queue, poller
// and beat sources for cfg. A Redis source that cannot connect is logged and
// skipped; the ticker and HTTP trigger still beat the queue.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, define DefineFunc) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	rt := &Runtime{Store: store, closers: []func() error{store.Close}}

	rt.Registry = dispatch.NewRegistry()
	rt.Dispatcher = dispatch.New(rt.Registry, store, nil, logger)
	rt.Tasks = task.NewQueue(cfg, store, rt.Registry, rt.Dispatcher, logger)

	if err := importer.Register(rt.Registry, store, cfg.Importer, logger); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("register importer: %w", err)
	}
	if define != nil {
		if err := define(rt.Tasks, rt.Registry); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("define tasks: %w", err)
		}
	}

	rt.Poller = beat.NewPoller(rt.Tasks.Name(), beat.QuotasFromConfig(cfg.Queue.PollQuotas), store, rt.Dispatcher, logger)

	if interval := cfg.BeatInterval(); interval > 0 {
		rt.Sources = append(rt.Sources, &beat.Ticker{Interval: interval, Logger: logger})
	}
	if cfg.Beat.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		source, err := beat.NewRedis(connectCtx, cfg.Beat.RedisURL, cfg.Beat.RedisChannel, logger)
		cancel()
		if err != nil {
			logging.WarnWithContext(logger, "redis beat source unavailable", "beat_source_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check beat.redis_url and that the Redis server is reachable"),
				logging.String(logging.FieldImpact, "queue is only beaten by the ticker and the HTTP trigger"),
			)
		} else {
			rt.Sources = append(rt.Sources, source)
			rt.closers = append(rt.closers, source.Close)
		}
	}
	return rt, nil
}

// Close releases the store and source connections in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Deps returns the daemon dependencies for rt.
func (rt *Runtime) Deps() daemon.Deps {
	return daemon.Deps{
		Store:    rt.Store,
		Registry: rt.Registry,
		Poller:   rt.Poller,
		Tasks:    rt.Tasks,
		Sources:  rt.Sources,
	}
}

// Run starts the taskbeat daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logPath := cfg.LogPath()
	rotated, rotateErr := logging.RotateLog(logPath, time.Now())
	if rotateErr != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to rotate log file: %v\n", rotateErr)
	}

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if rotated != "" {
		logger.Debug("previous log rotated", logging.String("path", rotated))
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.DataDir, "taskbeat-*.log", logPath)

	if err := runPreflight(signalCtx, cfg, logger); err != nil {
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Build(signalCtx, cfg, logger, opts.Define)
	if err != nil {
		logger.Error("assemble queue runtime", logging.Error(err))
		return err
	}
	defer rt.Close()

	d, err := daemon.New(cfg, rt.Deps(), logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running daemon and queue database access"),
			logging.String(logging.FieldImpact, "queue entries are not processed by this process"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("taskbeat daemon shutting down")
	return nil
}

// runPreflight logs every failed check. Only an unusable data directory is fatal.
func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or service before relying on it"),
		)
		if result.Name == "Data directory" {
			return fmt.Errorf("preflight: %s: %s", result.Name, result.Detail)
		}
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
