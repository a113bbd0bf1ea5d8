// Package bg provides an abstraction for running functions in the background.
//
// The supervisor owns several housekeeping goroutines per worker (process
// reaper, ready-pipe reader, heartbeat timer). Routing them through a Runner
// abstracts away the "go func()" decision, so tests can run the same code
// paths synchronously and deterministically.
package bg

// Runner is an interface for executing functions, either synchronously or
// asynchronously.
type Runner interface {
	// Do executes the given function.
	// The implementation determines whether this happens synchronously or asynchronously.
	Do(fn func())
}
