package outcome

import "taskbeat/internal/queue"

// Strategy is the outcome a handler decides for its entry. The set is closed:
// only the types in this file implement it.
type Strategy interface {
	Name() string
	sealed()
}

// Reject marks the entry rejected.
type Reject struct{}

// Duplicate marks the entry duplicated.
type Duplicate struct{}

// Fail marks the entry failed.
type Fail struct{}

// Skip marks the entry skipped; the next poll cycle claims it again.
type Skip struct{}

// Sync marks the entry synced without touching its affected resources.
type Sync struct{}

// MoveToManual parks the entry for a human.
type MoveToManual struct{}

// SyncTo marks the entry synced and records exactly Resources as affected.
type SyncTo struct {
	Resources []queue.Resource
}

// FuzzymatchTo marks the entry fuzzymatched and records exactly Resources as affected.
type FuzzymatchTo struct {
	Resources []queue.Resource
}

// MergeTo hands the payload to the configured merge hook with Target.
type MergeTo struct {
	Target queue.Resource
}

// Create hands the payload to the create hook, which by default stores it
// and syncs to the stored resource.
type Create struct{}

// Apply hands the payload to the configured apply hook.
type Apply struct{}

func (Reject) Name() string       { return "reject" }
func (Duplicate) Name() string    { return "duplicate" }
func (Fail) Name() string         { return "fail" }
func (Skip) Name() string         { return "skip" }
func (Sync) Name() string         { return "sync" }
func (MoveToManual) Name() string { return "move_to_manual" }
func (SyncTo) Name() string       { return "sync_to" }
func (FuzzymatchTo) Name() string { return "fuzzymatch_to" }
func (MergeTo) Name() string      { return "merge_to" }
func (Create) Name() string       { return "create" }
func (Apply) Name() string        { return "apply" }

func (Reject) sealed()       {}
func (Duplicate) sealed()    {}
func (Fail) sealed()         {}
func (Skip) sealed()         {}
func (Sync) sealed()         {}
func (MoveToManual) sealed() {}
func (SyncTo) sealed()       {}
func (FuzzymatchTo) sealed() {}
func (MergeTo) sealed()      {}
func (Create) sealed()       {}
func (Apply) sealed()        {}

// Transition is a strategy plus the diagnostics stored with the new status.
type Transition struct {
	Strategy Strategy
	Message  string
	Info     any
}

// To starts a transition for s with no diagnostics.
func To(s Strategy) Transition {
	return Transition{Strategy: s}
}

// WithMessage returns t carrying message.
func (t Transition) WithMessage(message string) Transition {
	t.Message = message
	return t
}

// WithInfo returns t carrying info.
func (t Transition) WithInfo(info any) Transition {
	t.Info = info
	return t
}
