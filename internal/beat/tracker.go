package beat

import (
	"sync"

	"taskbeat/internal/queue"
)

// Decision is what a poll cycle did with the queue.
type Decision string

const (
	// DecisionResume re-dispatches an in-flight batch that made no progress
	// since the previous cycle.
	DecisionResume Decision = "resume"
	// DecisionSkip leaves a changing in-flight batch to whoever is processing it.
	DecisionSkip Decision = "skip"
	// DecisionClaim claims a fresh batch.
	DecisionClaim Decision = "claim"
)

// Tracker remembers the in-flight id set seen by the previous cycle of one
// queue. Its mutex serializes cycles.
type Tracker struct {
	mu       sync.Mutex
	previous map[string]struct{}
}

// NewTracker returns a tracker with an empty previous set.
func NewTracker() *Tracker {
	return &Tracker{previous: map[string]struct{}{}}
}

// decide classifies the in-flight entries and records them. Callers hold mu.
// A batch identical to the previous one is stuck and gets resumed; a batch
// that changed is still being worked on and the cycle is skipped.
func (t *Tracker) decide(inFlight []*queue.Entry) Decision {
	if len(inFlight) == 0 {
		return DecisionClaim
	}
	current := idSet(inFlight)
	if sameSet(current, t.previous) {
		return DecisionResume
	}
	t.previous = current
	return DecisionSkip
}

// record stores the ids of a dispatched batch. Callers hold mu.
func (t *Tracker) record(entries []*queue.Entry) {
	t.previous = idSet(entries)
}

// Previous returns a copy of the recorded id set.
func (t *Tracker) Previous() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.previous))
	for id := range t.previous {
		ids = append(ids, id)
	}
	return ids
}

func idSet(entries []*queue.Entry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e.ID] = struct{}{}
	}
	return set
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
