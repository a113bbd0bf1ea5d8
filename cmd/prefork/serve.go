package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/prefork"
	"github.com/fieldline/prefork/internal/ipc"
)

func serveCommand(args []string) error {
	fs := newServeFlagSet()
	configPath := fs.String("config", "", "Path to prefork config file (defaults plus env when empty)")
	bind := fs.String("bind", "", "Listen address, overrides the config file")
	workers := fs.Int("workers", 0, "Worker count, overrides the config file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// Flags win over the config file by riding the env override layer.
	// Worker processes re-execute this same command line, but they read
	// their config from the spawn snapshot, so these are master-only.
	if *bind != "" {
		os.Setenv("PREFORK_BIND", *bind)
	}
	if *workers > 0 {
		os.Setenv("PREFORK_WORKERS", fmt.Sprint(*workers))
	}

	log.Printf("prefork runtime (version %s)", version)

	return prefork.Run(*configPath, prefork.AppFunc(demoApp))
}

func newServeFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println(`Serve the built-in demo application through the runtime

The demo application answers with the serving worker's pid, which makes
the pool visible: repeated requests rotate across worker processes, and
a SIGHUP to the master swaps in a fresh set of pids without dropping
connections.

USAGE:
    prefork serve [flags]

FLAGS:
    --config string   Path to prefork config file
    --bind string     Listen address, overrides the config file
    --workers int     Worker count, overrides the config file

SIGNALS:
    SIGTERM, SIGINT   graceful shutdown
    SIGHUP            zero-downtime reload
    SIGTTIN, SIGTTOU  grow / shrink the pool by one

EXAMPLES:
    # Defaults: one worker on :8000
    prefork serve

    # Four workers on a custom port
    prefork serve --bind :9000 --workers 4

    # Reload the pool in place
    kill -HUP $(pgrep -o -f 'prefork serve')`)
	}
	return fs
}

// demoApp is the adapter served by the serve command: a small chi router
// that exposes the worker's identity and a deliberate slow endpoint for
// exercising the request timeout.
func demoApp(ctx context.Context) (http.Handler, error) {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "served by worker pid %d (generation %s)\n",
			os.Getpid(), os.Getenv(ipc.EnvGeneration))
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Printf("write error: %v", err)
		}
	})

	// Sleeps for ?d= (default 1s) before answering, to demonstrate the
	// per-request timeout and graceful drain.
	r.Get("/slow", func(w http.ResponseWriter, req *http.Request) {
		d := time.Second
		if raw := req.URL.Query().Get("d"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				http.Error(w, "bad duration", http.StatusBadRequest)
				return
			}
			d = parsed
		}
		select {
		case <-time.After(d):
			fmt.Fprintf(w, "slept %s in pid %d\n", d, os.Getpid())
		case <-req.Context().Done():
		}
	})

	return r, nil
}
