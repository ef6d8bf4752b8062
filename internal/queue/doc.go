// Package queue persists task queue entries in SQLite and implements the
// atomic claim that hands them to the poll cycle.
//
// The Store manages the database connection, schema initialization, entry
// inserts and saves, the priority-ordered Claim, duplicate counting by payload
// hash, a minimal resource table used by the create outcome, and stats and
// health queries for the CLI and API.
//
// Entries are durable history: the poller never deletes them. Schema changes
// bump the version in schema.go; users move the database aside to adopt the
// new schema.
package queue
