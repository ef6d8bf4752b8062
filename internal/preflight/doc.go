// Package preflight provides readiness checks for the filesystem paths and
// external services the taskbeat daemon depends on.
//
// These checks run in two contexts:
//   - The daemon runner calls RunAll before taking the lock and logs every
//     failure; a failing data directory check aborts startup.
//   - The CLI "taskbeat status" command prints the same results.
//
// Each check is gated by its config section -- unconfigured features are skipped.
package preflight
