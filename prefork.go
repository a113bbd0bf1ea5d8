// Package prefork provides a pre-fork HTTP application server runtime: a
// master process that binds one listening socket and supervises a pool of
// worker processes, each serving requests through a user-supplied application
// adapter, with zero-downtime reload and graceful shutdown.
//
// The same binary acts as master and worker. The embedding program's main
// calls Run (or Start), and the runtime dispatches on the process role: the
// master re-executes the binary for each worker with the listener inherited
// across exec, and the worker path initializes the adapter and serves.
//
// Quick Start:
//
//	func main() {
//	    app := prefork.AppFunc(func(ctx context.Context) (http.Handler, error) {
//	        r := chi.NewRouter()
//	        r.Get("/", func(w http.ResponseWriter, req *http.Request) {
//	            fmt.Fprintf(w, "served by pid %d\n", os.Getpid())
//	        })
//	        return r, nil
//	    })
//
//	    if err := prefork.Run("prefork.yaml", app); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// Configuration (prefork.yaml):
//
//	server:
//	  bind: ":8000"
//	  workers: 4
//	  request_timeout: "30s"
//	  grace_period: "30s"
//
// Signals understood by the master:
//
//	SIGTERM, SIGINT   graceful shutdown within the grace period
//	SIGHUP            zero-downtime reload of the worker pool
//	SIGTTIN, SIGTTOU  grow / shrink the pool by one worker
package prefork

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/fieldline/prefork/internal/bg"
	"github.com/fieldline/prefork/internal/config"
	"github.com/fieldline/prefork/internal/ipc"
	"github.com/fieldline/prefork/internal/supervisor"
	"github.com/fieldline/prefork/internal/worker"
)

// App is the application adapter contract: the runtime's only view of the
// application. Init is called once per worker process, before the worker
// starts accepting connections; the returned handler then serves every
// request the worker accepts.
//
// An Init error aborts the worker with an adapter-init failure. The master
// replaces it, but persistent init failures within a short window stop the
// whole runtime: a broken adapter must not be respawned forever.
type App interface {
	Init(ctx context.Context) (http.Handler, error)
}

// AppFunc adapts a plain constructor function to the App interface.
type AppFunc func(ctx context.Context) (http.Handler, error)

// Init implements App.
func (f AppFunc) Init(ctx context.Context) (http.Handler, error) {
	return f(ctx)
}

// Handler wraps a ready-made http.Handler as an App whose initialization
// cannot fail.
func Handler(h http.Handler) App {
	return AppFunc(func(context.Context) (http.Handler, error) {
		return h, nil
	})
}

// resolveConfigPath returns the config file path from the PREFORK_CONFIG
// environment variable.
//
// It returns an error if PREFORK_CONFIG is not set, ensuring the library
// never silently assumes a default environment. For explicit control, call
// Run(configPath, app) directly.
func resolveConfigPath() (string, error) {
	if path := os.Getenv("PREFORK_CONFIG"); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("PREFORK_CONFIG environment variable not set; either set PREFORK_CONFIG or call Run() with an explicit config path")
}

// Run boots the runtime and blocks for the process lifetime.
//
// In the master role it binds the listening socket, spawns the configured
// worker pool, and supervises it until a termination signal arrives; in the
// worker role (processes the master spawned) it serves requests until told
// to drain. Callers do not need to distinguish the roles.
//
// An empty configPath runs on defaults plus environment overrides
// (PREFORK_BIND, PREFORK_WORKERS, PREFORK_REQUEST_TIMEOUT,
// PREFORK_GRACE_PERIOD).
//
// Returns:
//   - *ConfigError for invalid or malformed configuration, before binding
//   - *BindError if the address is invalid or the port is in use
//   - ErrBootLoop if adapter initialization fails persistently
//   - nil after a clean, signal-driven shutdown
func Run(configPath string, app App) error {
	if os.Getenv(ipc.EnvWorker) != "" {
		return runWorker(app)
	}

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}

	sup, err := newSupervisor(cfg)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGTTIN, unix.SIGTTOU)
	defer signal.Stop(sigCh)

	// The forwarding goroutine must not outlive the runtime: stopped is
	// closed once the event loop returns, releasing the goroutine.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case unix.SIGHUP:
					sup.Notify(supervisor.ReloadRequested{})
				case unix.SIGTTIN:
					sup.Notify(supervisor.ScaleRequested{Delta: 1})
				case unix.SIGTTOU:
					sup.Notify(supervisor.ScaleRequested{Delta: -1})
				default:
					sup.Notify(supervisor.ShutdownRequested{})
				}
			case <-stopped:
				return
			}
		}
	}()

	return sup.Run()
}

// RunServer is a convenience wrapper around Run that reads the config path
// from the PREFORK_CONFIG environment variable. If PREFORK_CONFIG is not
// set, it returns an error.
func RunServer(app App) error {
	if os.Getenv(ipc.EnvWorker) != "" {
		// Workers read their config from the spawn snapshot, never
		// from PREFORK_CONFIG.
		return runWorker(app)
	}
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	return Run(path, app)
}

// Start boots the master runtime and returns instead of blocking, for
// callers that own their signal handling.
//
// Returns:
//   - shutdown: initiates graceful shutdown and waits for the runtime to
//     stop, returning its final error
//   - error: if config loading or socket binding fails
//
// Shutdown semantics:
//   - The shutdown function is safe to call multiple times (idempotent)
//   - First call drains all workers within the configured grace period,
//     force-terminating any that outlive it
//   - Subsequent calls return the result of the first shutdown
//
// In a process spawned as a worker, Start never returns: it serves until
// drained and exits, so the embedding main does not run its post-Start
// logic inside workers.
func Start(configPath string, app App) (shutdown func() error, err error) {
	if os.Getenv(ipc.EnvWorker) != "" {
		if err := runWorker(app); err != nil {
			log.Printf("prefork: worker failed: %v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return nil, err
	}

	sup, err := newSupervisor(cfg)
	if err != nil {
		return nil, err
	}

	loopErr := make(chan error, 1)
	go func() { loopErr <- sup.Run() }()

	// Ensure shutdown is only executed once
	var shutdownOnce sync.Once
	var shutdownErr error

	shutdownFunc := func() error {
		shutdownOnce.Do(func() {
			sup.Notify(supervisor.ShutdownRequested{})
			shutdownErr = <-loopErr
		})
		return shutdownErr
	}

	return shutdownFunc, nil
}

// newSupervisor wires the production spawner and binds the listener.
func newSupervisor(cfg config.Server) (*supervisor.Supervisor, error) {
	spawner, err := supervisor.NewExecSpawner(cfg, bg.Async{})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare worker spawner: %w", err)
	}
	sup := supervisor.New(cfg, spawner)
	if err := sup.Start(); err != nil {
		return nil, err
	}
	return sup, nil
}

// runWorker is the worker-role body of Run: build the runtime from the spawn
// contract and serve until drained.
func runWorker(app App) error {
	rt, err := worker.FromEnv(app.Init)
	if err != nil {
		return fmt.Errorf("failed to assemble worker runtime: %w", err)
	}
	err = rt.Run(context.Background())
	if errors.Is(err, worker.ErrAdapterInit) {
		// A distinct exit code lets the master tell boot failures from
		// crashes and apply the boot budget.
		log.Printf("prefork: %v", err)
		os.Exit(ipc.ExitCodeAdapterInit)
	}
	return err
}
