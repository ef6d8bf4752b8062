package task

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"runtime"

	"taskbeat/internal/dispatch"
	"taskbeat/internal/outcome"
	"taskbeat/internal/payload"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
)

// Func is a task body. Its result is stored as the entry's processing info
// when the entry syncs. Returning a *Failure marks the entry failed.
type Func func(ctx context.Context, payload queue.Document) (any, error)

// Failure is the expected way for a task to give up on an entry.
type Failure struct {
	Message string
	Info    any
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return "task failed"
	}
	return "task failed: " + f.Message
}

// Fail builds a *Failure.
func Fail(message string, info any) error {
	return &Failure{Message: message, Info: info}
}

// Option configures a task definition.
type Option func(*Task)

// WithName sets the task name. Without it the name is derived from the
// function as "<package>.<func>".
func WithName(name string) Option {
	return func(t *Task) { t.name = name }
}

// WithPriority sets the priority of delayed entries.
func WithPriority(priority int) Option {
	return func(t *Task) { t.priority = priority }
}

// WithImmediate controls whether Delay dispatches right away or waits for a beat.
func WithImmediate(immediate bool) Option {
	return func(t *Task) { t.immediate = immediate }
}

// WithSchema validates payloads before they are run or enqueued.
func WithSchema(schema *payload.Schema) Option {
	return func(t *Task) { t.schema = schema }
}

// Task is a registered unit of work. Invoke runs it in the caller; Delay
// enqueues it.
type Task struct {
	queue     *Queue
	name      string
	priority  int
	immediate bool
	schema    *payload.Schema
	fn        Func
}

func (t *Task) Name() string            { return t.name }
func (t *Task) Priority() int           { return t.priority }
func (t *Task) Immediate() bool         { return t.immediate }
func (t *Task) Schema() *payload.Schema { return t.schema }

// Validate checks doc against the task schema, if any.
func (t *Task) Validate(doc queue.Document) error {
	return t.schema.Validate(doc)
}

// Invoke validates doc and runs the task body directly, bypassing the queue.
func (t *Task) Invoke(ctx context.Context, doc queue.Document) (any, error) {
	if err := t.Validate(doc); err != nil {
		return nil, err
	}
	return t.fn(ctx, doc)
}

// Delay validates doc and persists a pending entry for the task. related
// become the entry's affected resources. The entry is then processed in the
// caller (eager mode), in the background (immediate tasks), or on a later
// beat.
func (t *Task) Delay(ctx context.Context, doc queue.Document, related ...queue.Reference) (*queue.Entry, error) {
	if err := t.Validate(doc); err != nil {
		return nil, err
	}
	snapshot, err := doc.Clone()
	if err != nil {
		return nil, fmt.Errorf("delay %s: copy payload: %w", t.name, err)
	}
	entry := &queue.Entry{
		Source:            t.name,
		Priority:          t.priority,
		Payload:           snapshot,
		AffectedResources: related,
	}
	return t.queue.enqueue(ctx, entry, t.immediate)
}

func (t *Task) handle(ctx context.Context, _ *queue.Entry, resource queue.Resource, apply dispatch.Applier) error {
	result, err := t.fn(ctx, resource.Document())
	var failure *Failure
	if errors.As(err, &failure) {
		return apply(ctx, resource, outcome.To(outcome.Fail{}).WithMessage(failure.Message).WithInfo(failure.Info))
	}
	if err != nil {
		return err
	}
	return apply(ctx, resource, outcome.To(outcome.Sync{}).WithInfo(result))
}

func funcName(fn Func) string {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return ""
	}
	return path.Base(f.Name())
}

func (q *Queue) newTask(fn Func, opts []Option) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: task function is required", services.ErrConfiguration)
	}
	t := &Task{
		queue:     q,
		priority:  q.defaultPriority,
		immediate: q.defaultImmediate,
		fn:        fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.name == "" {
		t.name = funcName(fn)
	}
	if t.name == "" {
		return nil, fmt.Errorf("%w: cannot derive a task name, use WithName", services.ErrConfiguration)
	}
	return t, nil
}
