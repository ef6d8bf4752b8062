package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"taskbeat/internal/config"
	"taskbeat/internal/dispatch"
	"taskbeat/internal/logging"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
)

// Store persists new entries.
type Store interface {
	Insert(ctx context.Context, entry *queue.Entry) error
}

// Processor runs one entry through its handler.
type Processor interface {
	Process(ctx context.Context, entry *queue.Entry) (*queue.Entry, error)
}

// Queue is the producer side of a named queue: it defines tasks into a
// registry and enqueues entries for them.
type Queue struct {
	name             string
	store            Store
	registry         *dispatch.Registry
	processor        Processor
	inFlight         *dispatch.InFlight
	eager            bool
	defaultPriority  int
	defaultImmediate bool
	logger           *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// NewQueue builds a producer for cfg's queue.
func NewQueue(cfg *config.Config, store Store, registry *dispatch.Registry, processor Processor, logger *slog.Logger) *Queue {
	name := cfg.Queue.Name
	if name == "" {
		name = queue.DefaultQueueName
	}
	return &Queue{
		name:             name,
		store:            store,
		registry:         registry,
		processor:        processor,
		inFlight:         dispatch.InFlightOf(processor),
		eager:            cfg.Tasks.AlwaysEager,
		defaultPriority:  cfg.Tasks.DefaultPriority,
		defaultImmediate: cfg.Tasks.DefaultImmediate,
		logger:           logging.NewComponentLogger(logger, "task"),
		tasks:            make(map[string]*Task),
	}
}

// Name returns the queue name entries are written to.
func (q *Queue) Name() string { return q.name }

// Define registers fn as a task. Task names are unique per registry.
func (q *Queue) Define(fn Func, opts ...Option) (*Task, error) {
	t, err := q.newTask(fn, opts)
	if err != nil {
		return nil, err
	}
	if err := q.registry.RegisterTask(t.name, t.handle); err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.tasks[t.name] = t
	q.mu.Unlock()
	return t, nil
}

// MustDefine is Define for package-level task tables.
func (q *Queue) MustDefine(fn Func, opts ...Option) *Task {
	t, err := q.Define(fn, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the task defined under name.
func (q *Queue) Lookup(name string) (*Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := q.tasks[name]
	return t, ok
}

// Wait blocks until background dispatches started by immediate entries finish.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// AddToQueue enqueues a single resource under source. The resource is
// recorded as affected when it already has an id.
func (q *Queue) AddToQueue(ctx context.Context, source string, priority int, immediate bool, resource queue.Resource) (*queue.Entry, error) {
	if resource == nil {
		return nil, fmt.Errorf("add to queue: nil resource")
	}
	doc, err := resource.Document().Clone()
	if err != nil {
		return nil, fmt.Errorf("add to queue: copy resource: %w", err)
	}
	var affected []queue.Reference
	if ref, ok := doc.Reference(); ok {
		affected = append(affected, ref)
	}
	return q.enqueue(ctx, &queue.Entry{
		Source:            source,
		Priority:          priority,
		Payload:           doc,
		AffectedResources: affected,
	}, immediate)
}

// AddCollection enqueues resources wrapped in a collection Bundle. Resources
// that already have ids are recorded as affected.
func (q *Queue) AddCollection(ctx context.Context, source string, priority int, immediate bool, resources []queue.Resource) (*queue.Entry, error) {
	bundle, err := MakeBundle(resources, BundleCollection)
	if err != nil {
		return nil, err
	}
	var affected []queue.Reference
	for _, res := range resources {
		if ref, ok := res.Document().Reference(); ok {
			affected = append(affected, ref)
		}
	}
	return q.enqueue(ctx, &queue.Entry{
		Source:            source,
		Priority:          priority,
		Payload:           bundle,
		AffectedResources: affected,
	}, immediate)
}

// enqueue inserts entry and starts processing per mode. Immediate entries are
// inserted already claimed and reserved in the shared in-flight set, so a
// resuming poll cycle leaves them to the background dispatch.
func (q *Queue) enqueue(ctx context.Context, entry *queue.Entry, immediate bool) (*queue.Entry, error) {
	entry.Queue = q.name
	entry.Status = queue.StatusPending
	entry.Processing = immediate
	if err := q.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", entry.Source, err)
	}
	q.logger.Debug("entry enqueued",
		logging.EntryID(entry.ID),
		logging.Source(entry.Source),
		logging.Int("priority", entry.Priority),
		logging.Bool("immediate", immediate),
		logging.Bool("eager", q.eager),
	)

	if !q.eager && !immediate {
		return entry, nil
	}
	// A poll cycle that resumed the entry first owns it.
	if !q.inFlight.Acquire(entry.ID) {
		q.logger.Debug("entry already picked up by a poll cycle", logging.EntryID(entry.ID))
		return entry, nil
	}
	switch {
	case q.eager:
		defer q.inFlight.Release(entry.ID)
		return q.processor.Process(ctx, entry)
	case immediate:
		snapshot := *entry
		bg := context.WithoutCancel(ctx)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer q.inFlight.Release(snapshot.ID)
			if _, err := q.processor.Process(bg, &snapshot); err != nil {
				logging.ErrorWithContext(q.logger, "immediate dispatch failed", "immediate_dispatch_failed",
					logging.EntryID(snapshot.ID),
					logging.Error(err),
				)
			}
		}()
	}
	return entry, nil
}

// Request is an enqueue request from outside the process. Nil Priority and
// Immediate fall back to the task's settings when Source names a defined
// task, and to the queue defaults otherwise.
type Request struct {
	Source    string            `json:"source"`
	Priority  *int              `json:"priority,omitempty"`
	Immediate *bool             `json:"immediate,omitempty"`
	Payload   queue.Document    `json:"payload"`
	Related   []queue.Reference `json:"related,omitempty"`
}

// Enqueue validates req against the task schema for its source, if any, and
// enqueues it. Without Related, an identified payload is recorded as affected.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*queue.Entry, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "task", "enqueue", "source is required", nil)
	}
	priority, immediate := q.defaultPriority, q.defaultImmediate
	if t, ok := q.Lookup(source); ok {
		if err := t.Validate(req.Payload); err != nil {
			return nil, err
		}
		priority, immediate = t.priority, t.immediate
	}
	if req.Priority != nil {
		priority = *req.Priority
	}
	if req.Immediate != nil {
		immediate = *req.Immediate
	}

	doc, err := req.Payload.Clone()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "task", "enqueue", "payload is not JSON encodable", err)
	}
	related := req.Related
	if len(related) == 0 {
		if ref, ok := doc.Reference(); ok {
			related = []queue.Reference{ref}
		}
	}
	return q.enqueue(ctx, &queue.Entry{
		Source:            source,
		Priority:          priority,
		Payload:           doc,
		AffectedResources: related,
	}, immediate)
}
