package supervisor

import "net"

// Process is the master-side control surface of a spawned worker.
type Process interface {
	// Pid returns the worker's OS process id.
	Pid() int

	// Drain asks the worker to stop accepting connections, finish
	// in-flight requests, and exit.
	Drain() error

	// Kill force-terminates the worker. Last resort after the grace
	// period.
	Kill() error
}

// Spawner launches worker processes attached to the shared listener.
//
// Implementations must deliver WorkerReady, WorkerHeartbeat, and exactly one
// WorkerExited for each spawned worker through the notify callback. The
// production implementation re-executes the current binary; tests use a fake
// that drives the event loop directly.
type Spawner interface {
	// Attach hands the spawner the shared listening socket before any
	// worker is spawned.
	Attach(ln net.Listener) error

	// Spawn starts worker id for the given pool generation.
	Spawn(id, generation int, notify func(Event)) (Process, error)

	// Close releases any resources held for spawning (not the listener
	// itself, which the supervisor owns).
	Close() error
}
