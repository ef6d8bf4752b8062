// Package outcome is the state machine that resolves a queue entry.
//
// Handlers pick a Strategy; Machine.Apply records the resource as the entry's
// payload, moves the entry to the matching terminal status with the supplied
// message and info, and saves it. MergeTo and Apply need hooks configured on
// the Machine; Create defaults to storing the resource and syncing to it.
package outcome
