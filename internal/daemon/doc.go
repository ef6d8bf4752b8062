// Package daemon coordinates the long-running taskbeat process.
//
// It wires the queue store, the poller, the beat sources, and the HTTP API
// into a single lifecycle with flock-based locking to prevent multiple
// instances. The API exposes the $beat trigger, enqueueing, and read-only
// queue inspection. Stop waits for running poll cycles and background
// dispatches before releasing the lock.
package daemon
