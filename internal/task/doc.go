// Package task defines named units of work and enqueues entries for them.
//
// Queue.Define registers a Func under a name (derived from the function when
// not given) and returns a *Task. Task.Invoke runs the body in the caller;
// Task.Delay persists a pending entry and then processes it eagerly, in the
// background, or leaves it for the next beat. A body that returns a *Failure
// fails its entry; any other error is recorded as an exception.
package task
