package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"taskbeat/internal/logging"
	"taskbeat/internal/outcome"
	"taskbeat/internal/payload"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
)

// DuplicateMessage is recorded on entries suppressed by the duplicate check.
const DuplicateMessage = "Duplicated due to hash"

// Store is the persistence the dispatcher needs.
type Store interface {
	outcome.Store
	HasDuplicates(ctx context.Context, entry *queue.Entry) (bool, error)
}

// Dispatcher runs claimed entries through their handlers.
type Dispatcher struct {
	registry *Registry
	store    Store
	machine  *outcome.Machine
	inFlight *InFlight
	logger   *slog.Logger
}

// New builds a dispatcher. A nil machine gets outcome.New(store).
func New(registry *Registry, store Store, machine *outcome.Machine, logger *slog.Logger) *Dispatcher {
	if machine == nil {
		machine = outcome.New(store, outcome.WithLogger(logger))
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		machine:  machine,
		inFlight: NewInFlight(),
		logger:   logging.NewComponentLogger(logger, "dispatch"),
	}
}

// InFlight returns the set callers reserve entry ids in before Process.
func (d *Dispatcher) InFlight() *InFlight { return d.inFlight }

// Process resolves entry through its handler. Handler errors and panics never
// escape: the entry is marked exception with the failure trace instead. The
// returned error is non-nil only when that exception could not be saved.
func (d *Dispatcher) Process(ctx context.Context, entry *queue.Entry) (*queue.Entry, error) {
	if entry == nil {
		return nil, errors.New("dispatch: nil entry")
	}
	ctx = services.WithQueue(ctx, entry.Queue)
	ctx = services.WithEntryID(ctx, entry.ID)
	ctx = services.WithSource(ctx, entry.Source)
	logger := logging.WithContext(ctx, d.logger)

	trace, err := d.guard(ctx, entry)
	if err == nil {
		return entry, nil
	}

	hint := "inspect the entry processing message for the trace"
	attrs := []logging.Attr{
		logging.Error(err),
		logging.String("error_kind", services.Kind(err)),
		logging.String("trace", trace),
	}
	if errors.Is(err, services.ErrConfiguration) {
		hint = "register a task for the source or a mapping for the resource type"
		attrs = append(attrs, logging.Alert("configuration"))
	}
	attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
	logging.ErrorWithContext(logger, "entry processing failed", "entry_exception", attrs...)

	if markErr := d.machine.Mark(ctx, entry, queue.StatusException, trace, nil); markErr != nil {
		return entry, fmt.Errorf("dispatch: record exception for %s: %w", entry.ID, markErr)
	}
	return entry, nil
}

func (d *Dispatcher) guard(ctx context.Context, entry *queue.Entry) (trace string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			trace = fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		}
	}()
	if err := d.process(ctx, entry); err != nil {
		return errorTrace(err), err
	}
	return "", nil
}

// errorTrace renders err the way a panic is recorded: the message, the wrap
// chain with concrete types, then the dispatching goroutine's stack. An
// empty message is replaced by the error's type.
func errorTrace(err error) string {
	var b strings.Builder
	message := err.Error()
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("%T with empty message", err)
	}
	b.WriteString(message)
	b.WriteString("\n\n")
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%T: %v\n", e, e)
	}
	b.WriteString("\n")
	b.Write(debug.Stack())
	return b.String()
}

func (d *Dispatcher) process(ctx context.Context, entry *queue.Entry) error {
	entry.Processing = false
	if entry.PayloadHash == "" {
		hash, err := payload.Hash(entry.Payload)
		if err != nil {
			return err
		}
		entry.PayloadHash = hash
	}

	handler, checkDuplicates, err := d.registry.Resolve(entry)
	if err != nil {
		return err
	}

	if checkDuplicates {
		dup, err := d.store.HasDuplicates(ctx, entry)
		if err != nil {
			return err
		}
		if dup {
			return d.machine.Mark(ctx, entry, queue.StatusDuplicated, DuplicateMessage, nil)
		}
	}

	resource, err := entry.Payload.Clone()
	if err != nil {
		return fmt.Errorf("dispatch: copy payload: %w", err)
	}
	if resource == nil {
		resource = queue.Document{}
	}
	var applied bool
	apply := func(ctx context.Context, res queue.Resource, t outcome.Transition) error {
		applied = true
		return d.machine.Apply(ctx, entry, res, t)
	}
	if err := handler(ctx, entry, resource, apply); err != nil {
		return err
	}
	if !applied {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "handler returned without an outcome", "entry_unresolved",
			logging.String(logging.FieldErrorHint, "call apply with a strategy before returning"),
			logging.String(logging.FieldImpact, "entry stays claimed until the next poll cycle resumes it"),
		)
	}
	return nil
}
