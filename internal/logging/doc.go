// Package logging assembles structured slog loggers and formatting helpers used
// across taskbeat components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so queue code can automatically
// tag log lines with queue names, entry IDs, task sources, and correlation IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
