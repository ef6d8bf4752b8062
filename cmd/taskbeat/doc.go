// Command taskbeat runs and inspects a taskbeat queue.
//
// "taskbeat daemon" runs the poller, beat sources and HTTP trigger in the
// foreground. The queue subcommands read the SQLite database directly, so
// they work whether or not a daemon is running; beat, add and status talk to
// the daemon's HTTP API.
package main
