package dispatch

import "sync"

// InFlight is the set of entry ids this process is dispatching right now.
// Poll cycles and immediate dispatches share one set so an entry never runs
// through its handler twice at once.
type InFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewInFlight returns an empty set.
func NewInFlight() *InFlight {
	return &InFlight{ids: map[string]struct{}{}}
}

// Acquire adds id and reports whether it was absent.
func (f *InFlight) Acquire(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

// Release removes id.
func (f *InFlight) Release(id string) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

// Has reports whether id is being dispatched.
func (f *InFlight) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

// Len returns the number of ids in the set.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

// InFlightOf returns the set shared by p when p is a Dispatcher (or anything
// else exposing one), and a fresh private set otherwise.
func InFlightOf(p any) *InFlight {
	if owner, ok := p.(interface{ InFlight() *InFlight }); ok {
		return owner.InFlight()
	}
	return NewInFlight()
}
