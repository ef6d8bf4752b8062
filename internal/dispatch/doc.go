// Package dispatch routes claimed queue entries to their handlers.
//
// A Registry resolves an entry by its source (registered tasks) or by the
// resource type of its payload (the mapping table). Mapped handlers are
// guarded by duplicate suppression on the payload hash. The Dispatcher runs
// each handler inside a guard that turns errors and panics into the
// exception status, so one bad entry never stops a poll cycle.
package dispatch
