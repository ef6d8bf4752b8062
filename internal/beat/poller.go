package beat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"taskbeat/internal/config"
	"taskbeat/internal/dispatch"
	"taskbeat/internal/logging"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
)

// Store is the queue persistence a poller needs.
type Store interface {
	SelectProcessing(ctx context.Context, queueName string) ([]*queue.Entry, error)
	Claim(ctx context.Context, queueName string, quotas []queue.Quota) ([]*queue.Entry, error)
}

// Processor resolves one entry. Implementations contain handler failures.
type Processor interface {
	Process(ctx context.Context, entry *queue.Entry) (*queue.Entry, error)
}

// CycleResult reports one poll cycle.
type CycleResult struct {
	Decision   Decision
	Entries    []*queue.Entry
	Dispatched int
}

// Poller runs poll cycles for one queue.
type Poller struct {
	queueName string
	quotas    []queue.Quota
	store     Store
	processor Processor
	tracker   *Tracker
	inFlight  *dispatch.InFlight
	logger    *slog.Logger
	runs      sync.WaitGroup
}

// NewPoller builds a poller for queueName.
func NewPoller(queueName string, quotas []queue.Quota, store Store, processor Processor, logger *slog.Logger) *Poller {
	return &Poller{
		queueName: queueName,
		quotas:    quotas,
		store:     store,
		processor: processor,
		tracker:   NewTracker(),
		inFlight:  dispatch.InFlightOf(processor),
		logger:    logging.NewComponentLogger(logger, "beat").With(logging.String(logging.FieldQueue, queueName)),
	}
}

// QuotasFromConfig converts configured poll quotas.
func QuotasFromConfig(quotas []config.PollQuota) []queue.Quota {
	out := make([]queue.Quota, 0, len(quotas))
	for _, q := range quotas {
		out = append(out, queue.Quota{Status: queue.Status(q.Status), Limit: q.Limit})
	}
	return out
}

// QueueName returns the polled queue.
func (p *Poller) QueueName() string { return p.queueName }

// Tracker exposes the batch tracker for inspection.
func (p *Poller) Tracker() *Tracker { return p.tracker }

// Cycle runs one poll cycle: under the tracker lock it decides between
// resuming the stuck batch, skipping, or claiming a new batch, then
// dispatches the batch one entry at a time outside the lock.
func (p *Poller) Cycle(ctx context.Context) (CycleResult, error) {
	ctx = services.WithQueue(ctx, p.queueName)
	result, err := p.selectBatch(ctx)
	if err != nil {
		return result, err
	}

	for _, entry := range result.Entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !p.inFlight.Acquire(entry.ID) {
			p.logger.Debug("entry already being dispatched", logging.EntryID(entry.ID))
			continue
		}
		_, err := p.processor.Process(ctx, entry)
		p.inFlight.Release(entry.ID)
		if err != nil {
			logging.ErrorWithContext(p.logger, "entry dispatch failed", "dispatch_failed",
				logging.EntryID(entry.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "entry stays claimed; check the database and run queue reset if needed"),
			)
			continue
		}
		result.Dispatched++
	}
	if len(result.Entries) > 0 {
		p.logger.Info("poll cycle finished",
			logging.String("decision", string(result.Decision)),
			logging.Int("entries", len(result.Entries)),
			logging.Int("dispatched", result.Dispatched),
		)
	}
	return result, nil
}

func (p *Poller) selectBatch(ctx context.Context) (CycleResult, error) {
	p.tracker.mu.Lock()
	defer p.tracker.mu.Unlock()

	inFlight, err := p.store.SelectProcessing(ctx, p.queueName)
	if err != nil {
		return CycleResult{}, fmt.Errorf("poll %s: %w", p.queueName, err)
	}

	switch decision := p.tracker.decide(inFlight); decision {
	case DecisionResume:
		stuck := make([]*queue.Entry, 0, len(inFlight))
		for _, entry := range inFlight {
			if !p.inFlight.Has(entry.ID) {
				stuck = append(stuck, entry)
			}
		}
		p.logger.Info("resuming stuck batch",
			logging.Int("entries", len(stuck)),
			logging.Int("running", len(inFlight)-len(stuck)),
		)
		return CycleResult{Decision: decision, Entries: stuck}, nil
	case DecisionSkip:
		logging.WarnWithContext(p.logger, "batch still in flight, skipping cycle", "cycle_skipped",
			logging.Int("entries", len(inFlight)),
			logging.String(logging.FieldImpact, "no new entries claimed this cycle"),
			logging.String(logging.FieldErrorHint, "the batch is resumed if it is unchanged on the next beat"),
		)
		return CycleResult{Decision: decision}, nil
	}

	claimed, err := p.store.Claim(ctx, p.queueName, p.quotas)
	if err != nil {
		return CycleResult{}, fmt.Errorf("poll %s: %w", p.queueName, err)
	}
	p.tracker.record(claimed)
	if len(claimed) > 0 {
		p.logger.Debug("claimed batch", logging.Int("entries", len(claimed)))
	}
	return CycleResult{Decision: DecisionClaim, Entries: claimed}, nil
}

// Run is a handle to a cycle started by Beat.
type Run struct {
	done   chan struct{}
	result CycleResult
	err    error
}

// Done is closed when the cycle finishes.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the cycle finishes and returns its outcome.
func (r *Run) Wait() (CycleResult, error) {
	<-r.done
	return r.result, r.err
}

// Beat starts a cycle in the background and returns immediately. The cycle
// is detached from ctx cancellation so it outlives the triggering request.
func (p *Poller) Beat(ctx context.Context) *Run {
	run := &Run{done: make(chan struct{})}
	bg := context.WithoutCancel(ctx)
	p.runs.Add(1)
	go func() {
		defer p.runs.Done()
		defer close(run.done)
		run.result, run.err = p.Cycle(bg)
		if run.err != nil {
			logging.ErrorWithContext(p.logger, "poll cycle failed", "cycle_failed",
				logging.Error(run.err),
				logging.String("error_kind", services.Kind(run.err)),
			)
		}
	}()
	return run
}

// Wait blocks until every cycle started by Beat has finished.
func (p *Poller) Wait() {
	p.runs.Wait()
}
