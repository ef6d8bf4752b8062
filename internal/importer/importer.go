package importer

import (
	"context"
	"fmt"
	"log/slog"

	"taskbeat/internal/config"
	"taskbeat/internal/dispatch"
	"taskbeat/internal/logging"
	"taskbeat/internal/outcome"
	"taskbeat/internal/payload"
	"taskbeat/internal/queue"
)

// ManualMessage is recorded on entries parked for manual review.
const ManualMessage = "Source requires manual review"

// UnchangedMessage is recorded when the stored copy already matches.
const UnchangedMessage = "Resource unchanged"

// ResourceStore reads and writes stored resources.
type ResourceStore interface {
	GetResource(ctx context.Context, ref queue.Reference) (queue.Document, error)
	SaveResource(ctx context.Context, doc queue.Document) (queue.Reference, error)
}

// Importer stores entry payloads as resources.
type Importer struct {
	store  ResourceStore
	manual map[string]struct{}
	logger *slog.Logger
}

// New builds an importer. Entries from manualSources are parked as manual.
func New(store ResourceStore, manualSources []string, logger *slog.Logger) *Importer {
	manual := make(map[string]struct{}, len(manualSources))
	for _, source := range manualSources {
		manual[source] = struct{}{}
	}
	return &Importer{
		store:  store,
		manual: manual,
		logger: logging.NewComponentLogger(logger, "importer"),
	}
}

// Register maps cfg's resource types to a new importer.
func Register(registry *dispatch.Registry, store ResourceStore, cfg config.Importer, logger *slog.Logger) error {
	if len(cfg.ResourceTypes) == 0 {
		return nil
	}
	imp := New(store, cfg.ManualSources, logger)
	return registry.RegisterMapping(imp.Mapping(cfg.ResourceTypes))
}

// Mapping routes each resource type to Import, except manual sources which
// go to Manual.
func (i *Importer) Mapping(resourceTypes []string) map[string]dispatch.Mapping {
	mappings := make(map[string]dispatch.Mapping, len(resourceTypes))
	for _, rt := range resourceTypes {
		handlers := map[string]dispatch.Handler{dispatch.DefaultSource: i.Import}
		for source := range i.manual {
			handlers[source] = i.Manual
		}
		mappings[rt] = dispatch.BySource(handlers)
	}
	return mappings
}

// Import stores the payload. Bundles store every entry resource and sync to
// all of them; an identified resource whose stored copy is identical syncs
// without a write.
func (i *Importer) Import(ctx context.Context, entry *queue.Entry, resource queue.Resource, apply dispatch.Applier) error {
	doc := resource.Document()
	if doc.ResourceType() == "" {
		return apply(ctx, resource, outcome.To(outcome.Reject{}).WithMessage("payload has no resourceType"))
	}
	if doc.ResourceType() == "Bundle" {
		return i.importBundle(ctx, resource, apply)
	}

	if ref, ok := doc.Reference(); ok {
		stored, err := i.store.GetResource(ctx, ref)
		switch {
		case err == nil:
			same, err := sameDocument(stored, doc)
			if err != nil {
				return err
			}
			if same {
				return apply(ctx, resource, outcome.To(outcome.SyncTo{Resources: []queue.Resource{ref}}).WithMessage(UnchangedMessage))
			}
		case !queue.IsNotFound(err):
			return fmt.Errorf("import %s: %w", ref, err)
		}
	}
	i.logger.Debug("importing resource",
		logging.EntryID(entry.ID),
		logging.String("resource_type", doc.ResourceType()),
	)
	return apply(ctx, resource, outcome.To(outcome.Create{}))
}

func (i *Importer) importBundle(ctx context.Context, resource queue.Resource, apply dispatch.Applier) error {
	items, _ := resource.Document()["entry"].([]any)
	refs := make([]queue.Resource, 0, len(items))
	for n, item := range items {
		wrapper, _ := item.(map[string]any)
		raw, _ := wrapper["resource"].(map[string]any)
		if raw == nil {
			return apply(ctx, resource, outcome.To(outcome.Reject{}).WithMessage(fmt.Sprintf("bundle entry %d has no resource", n)))
		}
		doc, err := queue.Document(raw).Clone()
		if err != nil {
			return err
		}
		ref, err := i.store.SaveResource(ctx, doc)
		if err != nil {
			return fmt.Errorf("import bundle entry %d: %w", n, err)
		}
		refs = append(refs, ref)
	}
	return apply(ctx, resource, outcome.To(outcome.SyncTo{Resources: refs}))
}

// Manual parks the entry for review.
func (i *Importer) Manual(ctx context.Context, _ *queue.Entry, resource queue.Resource, apply dispatch.Applier) error {
	return apply(ctx, resource, outcome.To(outcome.MoveToManual{}).WithMessage(ManualMessage))
}

func sameDocument(a, b queue.Document) (bool, error) {
	ha, err := payload.Hash(a)
	if err != nil {
		return false, err
	}
	hb, err := payload.Hash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
