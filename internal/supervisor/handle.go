package supervisor

import "time"

// WorkerState tracks a worker's position in its lifecycle as seen by the
// master. The worker process has finer-grained states internally; the master
// only needs to know whether a worker is coming up, serving, or going away.
type WorkerState int

const (
	// StateLaunching covers spawn through adapter initialization.
	StateLaunching WorkerState = iota + 1

	// StateReady means the worker reported ready and is accepting
	// connections.
	StateReady

	// StateDraining means the worker was told to stop accepting and
	// finish in-flight requests. Its exit is expected and not replaced.
	StateDraining
)

func (s WorkerState) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// WorkerHandle is the master-owned record of one live worker process.
// Created on spawn, mutated only by the event loop, removed when the worker
// is reaped.
type WorkerHandle struct {
	ID            int
	PID           int
	Generation    int
	SpawnedAt     time.Time
	LastHeartbeat time.Time
	State         WorkerState

	proc Process
}
