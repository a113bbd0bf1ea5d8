// Package ipc defines the contract between the master process and its worker
// processes: the environment variables that mark a process as a worker, the
// descriptor slots inherited across exec, the worker exit codes the master
// interprets, and the single-byte ready/heartbeat frames workers write back.
//
// Both sides of the process boundary import this package; neither side
// imports the other.
package ipc

// Environment variables set by the master when spawning a worker.
const (
	// EnvWorker marks a process as a worker. Any non-empty value selects
	// the worker code path in prefork.Run.
	EnvWorker = "PREFORK_WORKER"

	// EnvWorkerID carries the master-assigned worker id (decimal).
	EnvWorkerID = "PREFORK_WORKER_ID"

	// EnvGeneration carries the worker's pool generation (decimal).
	// A reload spawns a new generation and drains the old one.
	EnvGeneration = "PREFORK_GENERATION"

	// EnvConfigSnapshot carries the master's resolved configuration,
	// encoded as YAML. Workers decode this instead of re-reading the
	// config file, so a worker always runs with the exact configuration
	// it was spawned under.
	EnvConfigSnapshot = "PREFORK_CONFIG_SNAPSHOT"
)

// Descriptor slots inherited by worker processes. Slots 0-2 are the standard
// streams; the master appends these via exec ExtraFiles.
const (
	// ListenerFD is the shared listening socket. Workers accept from it
	// but never close or rebind it.
	ListenerFD = 3

	// ReadyPipeFD is the write end of the ready/heartbeat pipe.
	ReadyPipeFD = 4
)

// Worker exit codes interpreted by the master.
const (
	// ExitCodeAdapterInit reports that the application adapter failed to
	// initialize. The master replaces the worker but counts the failure
	// against the boot budget; a persistent boot loop is fatal.
	ExitCodeAdapterInit = 3
)

// Frames written by a worker on the ready/heartbeat pipe.
const (
	// FrameReady is written exactly once, after the adapter initialized
	// and the worker started accepting connections.
	FrameReady byte = 'r'

	// FrameHeartbeat is written periodically while the worker is serving.
	FrameHeartbeat byte = 'h'
)
