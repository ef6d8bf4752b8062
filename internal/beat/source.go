package beat

import (
	"context"
	"log/slog"
	"time"

	"taskbeat/internal/logging"
)

// Trigger starts a beat for queueName. An empty name means every queue.
type Trigger func(queueName string)

// Source produces beats until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, trigger Trigger) error
}

// Ticker beats every queue on a fixed interval.
type Ticker struct {
	Interval time.Duration
	Logger   *slog.Logger
}

func (t *Ticker) Name() string { return "ticker" }

// Run fires trigger("") every Interval. A non-positive interval returns at once.
func (t *Ticker) Run(ctx context.Context, trigger Trigger) error {
	if t.Interval <= 0 {
		return nil
	}
	logger := logging.NewComponentLogger(t.Logger, "beat-ticker")
	logger.Info("beat ticker started", logging.Duration("interval", t.Interval))

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			trigger("")
		}
	}
}
