// Package worker implements the worker side of the prefork runtime: one
// process that owns a single instance of the application adapter, accepts
// connections from the listener inherited from the master, and serves
// HTTP/1.1 requests until told to drain.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fieldline/prefork/internal/bg"
	"github.com/fieldline/prefork/internal/config"
	"github.com/fieldline/prefork/internal/debug"
	"github.com/fieldline/prefork/internal/ipc"
)

// ErrAdapterInit reports that the application adapter failed to initialize.
// The worker exits with ipc.ExitCodeAdapterInit so the master can tell a
// boot failure from a crash.
var ErrAdapterInit = errors.New("application adapter failed to initialize")

// State tracks the worker lifecycle:
// Booting -> Ready -> Serving <-> Ready -> Draining -> Terminated.
type State int32

const (
	StateBooting State = iota + 1
	StateReady
	StateServing
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// InitFunc constructs the application's HTTP handler. Called exactly once
// per worker process, before the worker reports ready.
type InitFunc func(ctx context.Context) (http.Handler, error)

// heartbeatInterval is how often a serving worker reports liveness to the
// master.
const heartbeatInterval = 5 * time.Second

// readHeaderTimeout bounds header reads on every connection (slowloris).
const readHeaderTimeout = 10 * time.Second

// Runtime is one worker process's serving loop.
type Runtime struct {
	cfg        config.Server
	id         int
	generation int
	initApp    InitFunc
	listener   net.Listener
	ready      *ipc.Writer
	runner     bg.Runner

	state    atomic.Int32
	inFlight atomic.Int64
}

// New assembles a worker runtime from explicit parts. Production workers are
// built with FromEnv; tests inject their own listener and pipe.
func New(cfg config.Server, id, generation int, ln net.Listener, ready *ipc.Writer, initApp InitFunc, runner bg.Runner) *Runtime {
	r := &Runtime{
		cfg:        cfg,
		id:         id,
		generation: generation,
		initApp:    initApp,
		listener:   ln,
		ready:      ready,
		runner:     runner,
	}
	r.state.Store(int32(StateBooting))
	return r
}

// FromEnv assembles the runtime from the spawn contract: configuration
// snapshot and identity from the environment, the shared listener on fd 3,
// and the ready/heartbeat pipe on fd 4.
func FromEnv(initApp InitFunc) (*Runtime, error) {
	id, err := strconv.Atoi(os.Getenv(ipc.EnvWorkerID))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ipc.EnvWorkerID, err)
	}
	generation, err := strconv.Atoi(os.Getenv(ipc.EnvGeneration))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ipc.EnvGeneration, err)
	}
	cfg, err := config.FromSnapshot([]byte(os.Getenv(ipc.EnvConfigSnapshot)))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ipc.EnvConfigSnapshot, err)
	}

	lf := os.NewFile(ipc.ListenerFD, "prefork-listener")
	if lf == nil {
		return nil, errors.New("listener descriptor not inherited")
	}
	ln, err := net.FileListener(lf)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild inherited listener: %w", err)
	}
	// net.FileListener dups the descriptor; release the inherited one.
	lf.Close()

	pf := os.NewFile(ipc.ReadyPipeFD, "prefork-ready")
	if pf == nil {
		ln.Close()
		return nil, errors.New("ready pipe descriptor not inherited")
	}

	return New(cfg, id, generation, ln, ipc.NewWriter(pf), initApp, bg.Async{}), nil
}

// State returns the worker's lifecycle state. Serving and Ready alternate
// per request: a worker with in-flight requests reports Serving.
func (r *Runtime) State() State {
	s := State(r.state.Load())
	if s == StateReady && r.inFlight.Load() > 0 {
		return StateServing
	}
	return s
}

// Run boots the adapter and serves until the context is cancelled or a
// termination signal arrives, then drains within the grace period.
//
// Failure semantics:
//   - adapter init failure: returns an error wrapping ErrAdapterInit
//   - serve loop failure: returns the error (the master replaces the worker)
//   - drain: returns nil, even if the grace period expired with requests
//     still in flight (the master force-terminates stragglers)
func (r *Runtime) Run(ctx context.Context) error {
	debug.InitLogger()
	defer r.state.Store(int32(StateTerminated))
	defer r.ready.Close()

	if debug.Faults.ShouldFailBoot() {
		return fmt.Errorf("%w: injected boot fault", ErrAdapterInit)
	}

	app, err := r.initApp(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterInit, err)
	}

	srv := &http.Server{
		Handler:           buildHandler(app, r.cfg.RequestTimeout, &r.inFlight),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	r.runner.Do(func() {
		err := srv.Serve(r.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	r.state.Store(int32(StateReady))
	if err := r.ready.Ready(); err != nil {
		log.Printf("prefork: worker %d failed to report ready: %v", r.id, err)
	}
	log.Printf("prefork: worker %d (pid %d, gen %d) serving", r.id, os.Getpid(), r.generation)

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	r.runner.Do(func() { r.heartbeatLoop(stopHeartbeat) })

	// Drain is cooperative: observed between requests, never mid-request.
	drainCtx, stop := signal.NotifyContext(ctx, unix.SIGTERM, unix.SIGINT)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve loop failed: %w", err)
	case <-drainCtx.Done():
	}

	r.state.Store(int32(StateDraining))
	log.Printf("prefork: worker %d draining (grace %s)", r.id, r.cfg.GracePeriod)

	if debug.Faults.ShouldStallDrain() {
		time.Sleep(r.cfg.GracePeriod + 100*time.Millisecond)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), r.cfg.GracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		// Requests outlived the grace period; the master takes it from
		// here with a force-kill.
		log.Printf("prefork: worker %d drain incomplete: %v", r.id, err)
		srv.Close()
	}
	return nil
}

func (r *Runtime) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.ready.Heartbeat(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
