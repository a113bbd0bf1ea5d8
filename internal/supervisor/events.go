package supervisor

// Event is a lifecycle event consumed by the supervisor's event loop.
//
// All pool mutations flow through events processed strictly one at a time,
// which keeps replacement, reload, and shutdown ordering deterministic and
// removes any need for locking around the worker table.
type Event interface {
	isEvent()
}

// WorkerReady reports that a worker finished booting its adapter and is
// accepting connections from the shared listener.
type WorkerReady struct {
	ID int
}

// WorkerHeartbeat reports liveness from a serving worker.
type WorkerHeartbeat struct {
	ID int
}

// WorkerExited reports that a worker process terminated with the given exit
// code. Delivered by the spawner's reaper exactly once per spawned worker.
type WorkerExited struct {
	ID   int
	Code int
}

// ReloadRequested asks for a zero-downtime replacement of the worker pool.
// A reload arriving while one is in progress queues behind it.
type ReloadRequested struct{}

// ShutdownRequested asks for a graceful stop of the whole runtime.
type ShutdownRequested struct{}

// ScaleRequested grows (positive Delta) or shrinks (negative Delta) the
// worker pool at runtime. The pool never shrinks below one worker.
type ScaleRequested struct {
	Delta int
}

// drainGraceExpired fires when the drain grace period for the given workers
// lapses; any of them still alive are force-terminated.
type drainGraceExpired struct {
	ids []int
}

// shutdownGraceExpired fires when the shutdown grace period lapses.
type shutdownGraceExpired struct{}

// spawnRetry re-attempts a worker spawn that failed earlier. Carries the
// generation the failed spawn belonged to so retries superseded by a reload
// are dropped.
type spawnRetry struct {
	generation int
}

func (WorkerReady) isEvent()          {}
func (WorkerHeartbeat) isEvent()      {}
func (WorkerExited) isEvent()         {}
func (ReloadRequested) isEvent()      {}
func (ShutdownRequested) isEvent()    {}
func (ScaleRequested) isEvent()       {}
func (drainGraceExpired) isEvent()    {}
func (shutdownGraceExpired) isEvent() {}
func (spawnRetry) isEvent()           {}
