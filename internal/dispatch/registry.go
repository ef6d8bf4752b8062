package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"taskbeat/internal/outcome"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
)

// DefaultSource is the by-source mapping key used when no source matches.
const DefaultSource = "default"

// Applier resolves the entry being processed with a transition. resource
// becomes the entry's payload snapshot; nil keeps the stored payload.
type Applier func(ctx context.Context, resource queue.Resource, t outcome.Transition) error

// Handler processes one claimed entry. It must resolve the entry through
// apply; a returned error or a panic marks the entry as an exception.
type Handler func(ctx context.Context, entry *queue.Entry, resource queue.Resource, apply Applier) error

// Mapping routes entries by payload resource type. Either Handler is set, or
// BySource maps entry sources to handlers and must carry a DefaultSource key.
type Mapping struct {
	Handler  Handler
	BySource map[string]Handler
}

// Direct maps a resource type to a single handler.
func Direct(h Handler) Mapping {
	return Mapping{Handler: h}
}

// BySource maps a resource type to per-source handlers.
func BySource(handlers map[string]Handler) Mapping {
	return Mapping{BySource: handlers}
}

func (m Mapping) resolve(source string) (Handler, bool) {
	if m.Handler != nil {
		return m.Handler, true
	}
	if h, ok := m.BySource[source]; ok && h != nil {
		return h, true
	}
	h, ok := m.BySource[DefaultSource]
	return h, ok && h != nil
}

// ErrRegistryFrozen is returned by registrations after Freeze.
var ErrRegistryFrozen = fmt.Errorf("%w: registry is frozen", services.ErrConfiguration)

// ConfigurationError reports an entry no handler can process.
type ConfigurationError struct {
	Source       string
	ResourceType string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no task registered for source %q and no mapping for resource type %q with that source or %q",
		e.Source, e.ResourceType, DefaultSource)
}

// Is lets errors.Is match services.ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == services.ErrConfiguration
}

// Registry holds task handlers by name and the resource-type mapping table.
// Build it at startup, then Freeze it before dispatching.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]Handler
	mappings map[string]Mapping
	frozen   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:    make(map[string]Handler),
		mappings: make(map[string]Mapping),
	}
}

// RegisterTask binds name to h. Names are unique.
func (r *Registry) RegisterTask(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("%w: task name is required", services.ErrConfiguration)
	}
	if h == nil {
		return fmt.Errorf("%w: task %q has no handler", services.ErrConfiguration, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("%w: task %q is already registered, choose another name", services.ErrConfiguration, name)
	}
	r.tasks[name] = h
	return nil
}

// RegisterMapping merges mappings into the table; later registrations for a
// resource type replace earlier ones.
func (r *Registry) RegisterMapping(mappings map[string]Mapping) error {
	for resourceType, m := range mappings {
		if m.Handler == nil && len(m.BySource) == 0 {
			return fmt.Errorf("%w: mapping for %q has no handler", services.ErrConfiguration, resourceType)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	for resourceType, m := range mappings {
		r.mappings[resourceType] = m
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Tasks returns the registered task names, sorted.
func (r *Registry) Tasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResourceTypes returns the mapped resource types, sorted.
func (r *Registry) ResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.mappings))
	for rt := range r.mappings {
		types = append(types, rt)
	}
	sort.Strings(types)
	return types
}

// Resolve finds the handler for entry. Task handlers match on source and skip
// duplicate checks; mapped handlers match on payload resource type and report
// checkDuplicates.
func (r *Registry) Resolve(entry *queue.Entry) (h Handler, checkDuplicates bool, err error) {
	if entry == nil {
		return nil, false, errors.New("resolve handler: nil entry")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.tasks[entry.Source]; ok {
		return h, false, nil
	}
	resourceType := entry.Payload.ResourceType()
	if m, ok := r.mappings[resourceType]; ok {
		if h, ok := m.resolve(entry.Source); ok {
			return h, true, nil
		}
	}
	return nil, false, &ConfigurationError{Source: entry.Source, ResourceType: resourceType}
}
