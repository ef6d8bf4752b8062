// Package services defines shared utilities consumed by the queue components.
//
// Key responsibilities:
//   - Context helpers that stamp queue names, entry IDs, task sources, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so configuration,
//     validation and lookup failures can be told apart with errors.Is.
package services
