package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taskbeat/internal/logging"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
)

var (
	// ErrNoMergeHandler is returned for MergeTo when no merge hook is configured.
	ErrNoMergeHandler = fmt.Errorf("%w: merge_to has no merge handler", services.ErrConfiguration)
	// ErrNoApplyHandler is returned for Apply when no apply hook is configured.
	ErrNoApplyHandler = fmt.Errorf("%w: apply has no apply handler", services.ErrConfiguration)
)

// StrategyError reports a transition without a usable strategy.
type StrategyError struct {
	Strategy Strategy
}

func (e *StrategyError) Error() string {
	if e.Strategy == nil {
		return "outcome: no strategy given"
	}
	return fmt.Sprintf("outcome: strategy %q is not implemented", e.Strategy.Name())
}

func (e *StrategyError) Is(target error) bool {
	return target == services.ErrConfiguration
}

// Store is the persistence the machine needs.
type Store interface {
	Save(ctx context.Context, entry *queue.Entry) error
	SaveResource(ctx context.Context, doc queue.Document) (queue.Reference, error)
}

// MergeFunc merges resource into target and records the outcome on entry.
type MergeFunc func(ctx context.Context, m *Machine, entry *queue.Entry, resource, target queue.Resource) error

// HookFunc implements Create or Apply and records the outcome on entry.
type HookFunc func(ctx context.Context, m *Machine, entry *queue.Entry, resource queue.Resource) error

// Machine applies strategies to entries: it snapshots the resource into the
// payload, sets status and diagnostics, and saves.
type Machine struct {
	store  Store
	merge  MergeFunc
	create HookFunc
	apply  HookFunc
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithMerge installs the MergeTo hook.
func WithMerge(fn MergeFunc) Option {
	return func(m *Machine) { m.merge = fn }
}

// WithCreate replaces the default Create hook.
func WithCreate(fn HookFunc) Option {
	return func(m *Machine) { m.create = fn }
}

// WithApply installs the Apply hook.
func WithApply(fn HookFunc) Option {
	return func(m *Machine) { m.apply = fn }
}

// WithLogger sets the logger used for transition records.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// New builds a Machine over store.
func New(store Store, opts ...Option) *Machine {
	m := &Machine{store: store, create: CreateAndSync}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "outcome")
	return m
}

// Apply snapshots resource into the entry payload and performs t.
// A nil resource keeps the current payload.
func (m *Machine) Apply(ctx context.Context, entry *queue.Entry, resource queue.Resource, t Transition) error {
	if entry == nil {
		return errors.New("outcome: nil entry")
	}
	if resource != nil {
		snapshot, err := resource.Document().Clone()
		if err != nil {
			return fmt.Errorf("outcome: snapshot payload: %w", err)
		}
		entry.Payload = snapshot
	}

	switch s := t.Strategy.(type) {
	case Reject:
		return m.Mark(ctx, entry, queue.StatusRejected, t.Message, t.Info)
	case Duplicate:
		return m.Mark(ctx, entry, queue.StatusDuplicated, t.Message, t.Info)
	case Fail:
		return m.Mark(ctx, entry, queue.StatusFailed, t.Message, t.Info)
	case Skip:
		return m.Mark(ctx, entry, queue.StatusSkipped, t.Message, t.Info)
	case Sync:
		return m.Mark(ctx, entry, queue.StatusSynced, t.Message, t.Info)
	case MoveToManual:
		return m.Mark(ctx, entry, queue.StatusManual, t.Message, t.Info)
	case SyncTo:
		refs, err := references(s.Resources)
		if err != nil {
			return err
		}
		return m.MarkAffected(ctx, entry, queue.StatusSynced, refs, t.Message, t.Info)
	case FuzzymatchTo:
		refs, err := references(s.Resources)
		if err != nil {
			return err
		}
		return m.MarkAffected(ctx, entry, queue.StatusFuzzymatched, refs, t.Message, t.Info)
	case MergeTo:
		if m.merge == nil {
			return ErrNoMergeHandler
		}
		return m.merge(ctx, m, entry, resource, s.Target)
	case Create:
		return m.create(ctx, m, entry, resource)
	case Apply:
		if m.apply == nil {
			return ErrNoApplyHandler
		}
		return m.apply(ctx, m, entry, resource)
	default:
		return &StrategyError{Strategy: t.Strategy}
	}
}

// Mark sets status and diagnostics on the entry, clears processing, and saves.
func (m *Machine) Mark(ctx context.Context, entry *queue.Entry, status queue.Status, message string, info any) error {
	entry.SetOutcome(status, message, info)
	if err := m.store.Save(ctx, entry); err != nil {
		return fmt.Errorf("outcome: save %s entry: %w", status, err)
	}
	m.logger.Debug("entry transitioned",
		logging.EntryID(entry.ID),
		logging.Source(entry.Source),
		logging.Status(string(status)),
		logging.String(logging.FieldEventType, "entry_transitioned"),
	)
	return nil
}

// MarkAffected is Mark that also replaces the affected resources with refs.
func (m *Machine) MarkAffected(ctx context.Context, entry *queue.Entry, status queue.Status, refs []queue.Reference, message string, info any) error {
	entry.AffectedResources = refs
	return m.Mark(ctx, entry, status, message, info)
}

// CreateAndSync is the default Create hook: it stores the resource and marks
// the entry synced to it.
func CreateAndSync(ctx context.Context, m *Machine, entry *queue.Entry, resource queue.Resource) error {
	if resource == nil {
		return errors.New("outcome: create needs a resource")
	}
	ref, err := m.store.SaveResource(ctx, resource.Document())
	if err != nil {
		return fmt.Errorf("outcome: create resource: %w", err)
	}
	return m.MarkAffected(ctx, entry, queue.StatusSynced, []queue.Reference{ref}, "", nil)
}

func references(resources []queue.Resource) ([]queue.Reference, error) {
	refs := make([]queue.Reference, 0, len(resources))
	for _, res := range resources {
		if res == nil {
			return nil, errors.New("outcome: nil affected resource")
		}
		ref, ok := res.Document().Reference()
		if !ok {
			return nil, fmt.Errorf("outcome: affected resource %v has no resourceType/id", res.Document())
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
