package task

import (
	"fmt"

	"taskbeat/internal/queue"
)

// Bundle types understood by MakeBundle.
const (
	BundleCollection  = "collection"
	BundleSearchset   = "searchset"
	BundleTransaction = "transaction"
	BundleBatch       = "batch"
)

// MakeBundle wraps resources in a Bundle document. Transaction and batch
// bundles carry a PUT request for identified resources and a POST otherwise.
func MakeBundle(resources []queue.Resource, bundleType string) (queue.Document, error) {
	entries := make([]any, 0, len(resources))
	for _, res := range resources {
		if res == nil {
			return nil, fmt.Errorf("make bundle: nil resource")
		}
		doc, err := res.Document().Clone()
		if err != nil {
			return nil, fmt.Errorf("make bundle: copy resource: %w", err)
		}
		entry := map[string]any{"resource": map[string]any(doc)}
		if bundleType == BundleTransaction || bundleType == BundleBatch {
			if ref, ok := doc.Reference(); ok {
				entry["request"] = map[string]any{"method": "PUT", "url": "/" + ref.String()}
			} else {
				entry["request"] = map[string]any{"method": "POST", "url": "/" + doc.ResourceType()}
			}
		}
		entries = append(entries, entry)
	}
	return queue.Document{
		"resourceType": "Bundle",
		"type":         bundleType,
		"entry":        entries,
	}, nil
}
