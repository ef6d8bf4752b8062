// Package beat drives poll cycles.
//
// A Poller owns one queue. Each cycle takes the tracker lock, looks at the
// entries currently claimed, and either resumes them (the batch is identical
// to the previous cycle's, so its processor died), skips (the batch is still
// moving), or claims a fresh batch by priority. Claimed entries are
// dispatched sequentially after the lock is released. Beat starts a cycle in
// the background; Ticker and Redis are the built-in beat sources besides the
// HTTP endpoint.
//
// The lock covers only the decision. Dispatch goes through the dispatcher's
// in-flight set, which immediate dispatches share, so a resumed batch leaves
// out entries this process is still running.
package beat
