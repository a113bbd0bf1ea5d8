// Package supervisor implements the master side of the prefork runtime: it
// owns the listening socket, keeps the configured number of worker processes
// alive, and coordinates zero-downtime reload and graceful shutdown.
//
// The supervisor has no ambient globals and no shared mutable state: the
// worker table lives inside a single Supervisor instance and is touched only
// by its event loop.
package supervisor

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/fieldline/prefork/internal/config"
	"github.com/fieldline/prefork/internal/debug"
	"github.com/fieldline/prefork/internal/ipc"
)

// State is the master lifecycle state:
// Starting -> Running -> Reloading -> Running | Stopping -> Stopped.
// Stopping is terminal and non-reversible.
type State int

const (
	StateStarting State = iota + 1
	StateRunning
	StateReloading
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReloading:
		return "reloading"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// BindError reports that the listening socket could not be bound. It is
// fatal and aborts startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ErrBootLoop is returned when adapter initialization keeps failing across
// replacement workers within the configured window. A broken adapter must
// not be respawned forever.
var ErrBootLoop = errors.New("workers failing to boot repeatedly; giving up")

// eventBacklog bounds the event channel. Senders block (rather than drop)
// when the loop falls behind.
const eventBacklog = 64

// spawnRetryDelay paces re-attempts after a failed worker spawn.
const spawnRetryDelay = 250 * time.Millisecond

// Supervisor owns the listening socket and the worker pool.
type Supervisor struct {
	cfg     config.Server
	spawner Spawner

	listener net.Listener
	events   chan Event
	done     chan struct{}

	state         State
	workers       map[int]*WorkerHandle
	nextID        int
	generation    int
	target        int
	pendingReload bool
	bootFailures  []time.Time
	err           error
}

// New creates a supervisor for the given resolved configuration. The spawner
// determines how workers come into existence.
func New(cfg config.Server, spawner Spawner) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		spawner:    spawner,
		events:     make(chan Event, eventBacklog),
		done:       make(chan struct{}),
		state:      StateStarting,
		workers:    make(map[int]*WorkerHandle),
		generation: 1,
		target:     cfg.Workers,
	}
}

// Start binds the listening socket and spawns the initial worker set. The
// socket is bound exactly once for the process lifetime; workers inherit a
// duplicate and never rebind it.
//
// Returns *BindError if the address is invalid or the port is in use.
func (s *Supervisor) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return &BindError{Addr: s.cfg.Bind, Err: err}
	}
	s.listener = ln

	if err := s.spawner.Attach(ln); err != nil {
		ln.Close()
		return fmt.Errorf("failed to attach spawner: %w", err)
	}

	for i := 0; i < s.target; i++ {
		if err := s.spawn(s.generation); err != nil {
			s.killAll()
			ln.Close()
			return fmt.Errorf("failed to spawn initial workers: %w", err)
		}
	}

	log.Printf("prefork: master %d listening on %s with %d workers", os.Getpid(), ln.Addr(), s.target)
	return nil
}

// Run consumes lifecycle events until the runtime stops. It blocks for the
// process lifetime and returns nil on a clean shutdown, or the fatal error
// (boot loop) otherwise.
func (s *Supervisor) Run() error {
	for s.state != StateStopped {
		s.handle(<-s.events)
	}
	close(s.done)
	return s.err
}

// Notify enqueues a lifecycle event. Safe to call from any goroutine; events
// arriving after the runtime has stopped are dropped.
func (s *Supervisor) Notify(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Addr returns the bound listener address. Only valid after Start succeeds;
// useful when binding to port 0.
func (s *Supervisor) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Supervisor) handle(ev Event) {
	switch ev := ev.(type) {
	case WorkerReady:
		s.onReady(ev.ID)
	case WorkerHeartbeat:
		if h, ok := s.workers[ev.ID]; ok {
			h.LastHeartbeat = time.Now()
		}
	case WorkerExited:
		s.onExit(ev)
	case ReloadRequested:
		s.onReload()
	case ScaleRequested:
		s.onScale(ev.Delta)
	case ShutdownRequested:
		s.onShutdown()
	case drainGraceExpired:
		s.onDrainGraceExpired(ev.ids)
	case shutdownGraceExpired:
		s.onShutdownGraceExpired()
	case spawnRetry:
		s.onSpawnRetry(ev.generation)
	}
}

func (s *Supervisor) onReady(id int) {
	h, ok := s.workers[id]
	if !ok {
		return
	}
	h.State = StateReady
	h.LastHeartbeat = time.Now()
	debug.GetLogger().Debugf("worker %d (pid %d, gen %d) ready", h.ID, h.PID, h.Generation)

	switch s.state {
	case StateStarting:
		if s.readyCount(s.generation) == s.target {
			s.state = StateRunning
			log.Printf("prefork: all %d workers ready", s.target)
		}
	case StateReloading:
		// The old generation keeps serving until the full replacement
		// set is ready, so the listener never has zero ready workers.
		if s.readyCount(s.generation) >= s.target {
			s.retireBefore(s.generation)
			s.state = StateRunning
			log.Printf("prefork: reload complete, generation %d serving", s.generation)
			if s.pendingReload {
				s.pendingReload = false
				s.onReload()
			}
		}
	}
}

func (s *Supervisor) onExit(ev WorkerExited) {
	h, ok := s.workers[ev.ID]
	if !ok {
		return
	}
	delete(s.workers, ev.ID)

	switch {
	case s.state == StateStopping:
		log.Printf("prefork: worker %d (pid %d) exited during shutdown", h.ID, h.PID)
		if len(s.workers) == 0 {
			s.finish(nil)
		}

	case h.State == StateDraining:
		// Expected exit: retired by reload or scale-down.
		log.Printf("prefork: worker %d (pid %d, gen %d) drained", h.ID, h.PID, h.Generation)

	case h.State == StateLaunching:
		// Any exit before the worker reported ready is a boot failure,
		// whatever the exit code: an adapter-init error, a panic during
		// init, or a broken spawn contract all mean the worker never
		// served a request, and respawning at full rate forever would
		// spin on a broken adapter.
		if ev.Code == ipc.ExitCodeAdapterInit {
			log.Printf("prefork: worker %d (pid %d) failed to initialize its adapter", h.ID, h.PID)
		} else {
			log.Printf("prefork: worker %d (pid %d) exited with code %d before becoming ready", h.ID, h.PID, ev.Code)
		}
		if s.recordBootFailure() {
			log.Printf("prefork: %d boot failures within %s; exiting", s.cfg.BootFailBudget, s.cfg.BootFailWindow)
			s.fail(ErrBootLoop)
			return
		}
		s.spawnOrRetry(s.generation)

	default:
		// A crash of a ready worker is routine and always replaced:
		// request-serving capacity must not permanently shrink.
		log.Printf("prefork: worker %d (pid %d) exited unexpectedly with code %d; replacing", h.ID, h.PID, ev.Code)
		s.spawnOrRetry(s.generation)
	}
}

func (s *Supervisor) onReload() {
	switch s.state {
	case StateRunning:
		s.state = StateReloading
		s.generation++
		log.Printf("prefork: reload requested, spawning generation %d", s.generation)
		for i := 0; i < s.target; i++ {
			s.spawnOrRetry(s.generation)
		}
	case StateReloading:
		// Re-entrant reload: queue exactly one behind the in-flight one.
		s.pendingReload = true
	default:
		log.Printf("prefork: ignoring reload request in state %s", s.state)
	}
}

func (s *Supervisor) onScale(delta int) {
	if s.state != StateRunning {
		log.Printf("prefork: ignoring scale request in state %s", s.state)
		return
	}

	switch {
	case delta > 0:
		s.target++
		s.spawnOrRetry(s.generation)
		log.Printf("prefork: scaled up to %d workers", s.target)

	case delta < 0:
		if s.target <= 1 {
			log.Printf("prefork: ignoring scale-down below one worker")
			return
		}
		victim := s.newestReady()
		if victim == nil {
			log.Printf("prefork: no ready worker to retire, ignoring scale-down")
			return
		}
		s.target--
		s.drainWorker(victim)
		s.armDrainGrace([]int{victim.ID})
		log.Printf("prefork: scaled down to %d workers, draining worker %d", s.target, victim.ID)
	}
}

func (s *Supervisor) onShutdown() {
	if s.state == StateStopping || s.state == StateStopped {
		return
	}
	s.state = StateStopping
	log.Printf("prefork: shutdown requested, draining %d workers (grace %s)", len(s.workers), s.cfg.GracePeriod)

	if len(s.workers) == 0 {
		s.finish(nil)
		return
	}
	for _, h := range s.workers {
		s.drainWorker(h)
	}
	grace := s.cfg.GracePeriod
	time.AfterFunc(grace, func() {
		s.Notify(shutdownGraceExpired{})
	})
}

func (s *Supervisor) onDrainGraceExpired(ids []int) {
	for _, id := range ids {
		h, ok := s.workers[id]
		if !ok || h.State != StateDraining {
			continue
		}
		log.Printf("prefork: worker %d (pid %d) exceeded drain grace, force-terminating", h.ID, h.PID)
		if err := h.proc.Kill(); err != nil {
			log.Printf("prefork: failed to kill worker %d: %v", h.ID, err)
		}
	}
}

func (s *Supervisor) onShutdownGraceExpired() {
	if s.state != StateStopping {
		return
	}
	// The grace period bounds total shutdown time: kill stragglers, reap
	// their handles without waiting for exit events, and stop.
	for id, h := range s.workers {
		log.Printf("prefork: worker %d (pid %d) still alive after grace, force-terminating", h.ID, h.PID)
		if err := h.proc.Kill(); err != nil {
			log.Printf("prefork: failed to kill worker %d: %v", h.ID, err)
		}
		delete(s.workers, id)
	}
	s.finish(nil)
}

// spawn launches one worker of the given generation and records its handle.
func (s *Supervisor) spawn(generation int) error {
	s.nextID++
	id := s.nextID
	proc, err := s.spawner.Spawn(id, generation, s.Notify)
	if err != nil {
		return err
	}
	s.workers[id] = &WorkerHandle{
		ID:         id,
		PID:        proc.Pid(),
		Generation: generation,
		SpawnedAt:  time.Now(),
		State:      StateLaunching,
		proc:       proc,
	}
	debug.GetLogger().Debugf("spawned worker %d (pid %d, gen %d)", id, proc.Pid(), generation)
	return nil
}

// spawnOrRetry launches a worker, arming a retry when the spawn itself
// fails. A transient fork/exec failure must not shrink the pool for good or
// leave a reload waiting on a replacement that was never started.
func (s *Supervisor) spawnOrRetry(generation int) {
	if err := s.spawn(generation); err != nil {
		log.Printf("prefork: failed to spawn worker: %v (retrying in %s)", err, spawnRetryDelay)
		time.AfterFunc(spawnRetryDelay, func() {
			s.Notify(spawnRetry{generation: generation})
		})
	}
}

func (s *Supervisor) onSpawnRetry(generation int) {
	if s.state == StateStopping || s.state == StateStopped {
		return
	}
	if generation != s.generation {
		// A reload superseded the failed spawn; the new generation has
		// its own spawns.
		return
	}
	if s.liveCount(generation) >= s.target {
		return
	}
	s.spawnOrRetry(generation)
}

// retireBefore drains every worker of a generation older than gen and arms
// their force-kill timer.
func (s *Supervisor) retireBefore(gen int) {
	var ids []int
	for _, h := range s.workers {
		if h.Generation < gen && h.State != StateDraining {
			s.drainWorker(h)
			ids = append(ids, h.ID)
		}
	}
	if len(ids) > 0 {
		s.armDrainGrace(ids)
	}
}

func (s *Supervisor) drainWorker(h *WorkerHandle) {
	if h.State == StateDraining {
		return
	}
	h.State = StateDraining
	if err := h.proc.Drain(); err != nil {
		log.Printf("prefork: failed to signal drain to worker %d: %v", h.ID, err)
	}
}

func (s *Supervisor) armDrainGrace(ids []int) {
	time.AfterFunc(s.cfg.GracePeriod, func() {
		s.Notify(drainGraceExpired{ids: ids})
	})
}

// recordBootFailure notes an adapter-initialization failure and reports
// whether the budget within the window is exhausted.
func (s *Supervisor) recordBootFailure() bool {
	now := time.Now()
	cutoff := now.Add(-s.cfg.BootFailWindow)
	kept := s.bootFailures[:0]
	for _, t := range s.bootFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.bootFailures = append(kept, now)
	return len(s.bootFailures) >= s.cfg.BootFailBudget
}

// liveCount counts workers of a generation that are not on their way out:
// the pool's claim on capacity, ready or still launching.
func (s *Supervisor) liveCount(generation int) int {
	n := 0
	for _, h := range s.workers {
		if h.Generation == generation && h.State != StateDraining {
			n++
		}
	}
	return n
}

func (s *Supervisor) readyCount(generation int) int {
	n := 0
	for _, h := range s.workers {
		if h.Generation == generation && h.State == StateReady {
			n++
		}
	}
	return n
}

func (s *Supervisor) newestReady() *WorkerHandle {
	var newest *WorkerHandle
	for _, h := range s.workers {
		if h.State != StateReady {
			continue
		}
		if newest == nil || h.SpawnedAt.After(newest.SpawnedAt) {
			newest = h
		}
	}
	return newest
}

func (s *Supervisor) killAll() {
	for id, h := range s.workers {
		if err := h.proc.Kill(); err != nil {
			log.Printf("prefork: failed to kill worker %d: %v", h.ID, err)
		}
		delete(s.workers, id)
	}
}

// fail force-terminates everything and stops with err.
func (s *Supervisor) fail(err error) {
	s.killAll()
	s.finish(err)
}

// finish releases the listener and marks the runtime stopped.
func (s *Supervisor) finish(err error) {
	if s.listener != nil {
		if closeErr := s.listener.Close(); closeErr != nil {
			log.Printf("prefork: failed to close listener: %v", closeErr)
		}
	}
	if closeErr := s.spawner.Close(); closeErr != nil {
		log.Printf("prefork: failed to close spawner: %v", closeErr)
	}
	s.err = err
	s.state = StateStopped
	log.Printf("prefork: master stopped")
}
