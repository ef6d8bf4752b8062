package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue entry.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSynced       Status = "synced"
	StatusRejected     Status = "rejected"
	StatusDuplicated   Status = "duplicated"
	StatusFailed       Status = "failed"
	StatusException    Status = "exception"
	StatusSkipped      Status = "skipped"
	StatusImmediate    Status = "immediate"
	StatusManual       Status = "manual"
	StatusFuzzymatched Status = "fuzzymatched"
)

// DefaultQueueName is the queue entries land in unless configured otherwise.
const DefaultQueueName = "TaskQueue"

var allStatuses = []Status{
	StatusPending,
	StatusSynced,
	StatusRejected,
	StatusDuplicated,
	StatusFailed,
	StatusException,
	StatusSkipped,
	StatusImmediate,
	StatusManual,
	StatusFuzzymatched,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// claimable statuses are picked up again by the poll cycle.
var claimableStatuses = map[Status]struct{}{
	StatusPending: {},
	StatusSkipped: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsClaimable reports whether entries in this status are eligible for claiming.
func (s Status) IsClaimable() bool {
	_, ok := claimableStatuses[s]
	return ok
}

// IsTerminal reports whether the status is final for the poll cycle.
func (s Status) IsTerminal() bool {
	_, known := statusSet[s]
	return known && !s.IsClaimable()
}

// Quota caps how many entries of one status a single claim may take.
type Quota struct {
	Status Status
	Limit  int
}

// Entry is a unit of queued work persisted in SQLite.
type Entry struct {
	Seq               int64       `json:"seq" yaml:"seq"`
	ID                string      `json:"id" yaml:"id"`
	Queue             string      `json:"queue" yaml:"queue"`
	Source            string      `json:"source" yaml:"source"`
	Status            Status      `json:"status" yaml:"status"`
	Priority          int         `json:"priority" yaml:"priority"`
	Processing        bool        `json:"processing" yaml:"processing"`
	ProcessingMessage string      `json:"processingMessage,omitempty" yaml:"processingMessage,omitempty"`
	ProcessingInfo    any         `json:"processingInfo,omitempty" yaml:"processingInfo,omitempty"`
	Payload           Document    `json:"payload" yaml:"payload"`
	PayloadHash       string      `json:"payloadHash,omitempty" yaml:"payloadHash,omitempty"`
	AffectedResources []Reference `json:"affectedResources,omitempty" yaml:"affectedResources,omitempty"`
	TS                time.Time   `json:"ts" yaml:"ts"`
	UpdatedAt         time.Time   `json:"updatedAt" yaml:"updatedAt"`
}

// SetOutcome records a status transition with its diagnostics and clears the
// processing flag. A nil info clears previous diagnostics.
func (e *Entry) SetOutcome(status Status, message string, info any) {
	e.Status = status
	e.ProcessingMessage = message
	e.ProcessingInfo = info
	e.Processing = false
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int `json:"total"`
	Claimable  int `json:"claimable"`
	Processing int `json:"processing"`
	Synced     int `json:"synced"`
	Problem    int `json:"problem"`
}
