package worker

import (
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldline/prefork/internal/debug"
)

// buildHandler wraps the application adapter with the worker's request
// plumbing:
//
//   - request ids and access logging
//   - panic recovery, so an adapter failure is isolated to its request and
//     answered with a 500 instead of taking the worker down
//   - the per-request timeout, answered with a 503 without failing the worker
//
// inFlight is incremented for the duration of each request so the worker can
// report Serving vs Ready.
func buildHandler(app http.Handler, timeout time.Duration, inFlight *atomic.Int64) http.Handler {
	r := chi.NewRouter()
	r.Use(trackInFlight(inFlight))
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(crashFault)
	r.Mount("/", timeoutHandler(app, timeout))
	return r
}

// timeoutHandler enforces the per-request deadline: a request exceeding it
// is answered 503 within timeout+epsilon and the worker keeps serving. The
// timed-out response carries Connection: close, because the abandoned
// handler may still be running and the connection cannot be trusted for
// keep-alive reuse.
func timeoutHandler(app http.Handler, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var appDone atomic.Bool
		tracked := http.HandlerFunc(func(tw http.ResponseWriter, tr *http.Request) {
			defer appDone.Store(true)
			app.ServeHTTP(tw, tr)
		})
		inner := http.TimeoutHandler(tracked, timeout, "request timed out")
		inner.ServeHTTP(&closeOnTimeout{ResponseWriter: w, appDone: &appDone}, req)
	})
}

// closeOnTimeout distinguishes the timeout handler's own 503 from a 503 the
// application chose to return: only the former closes the connection.
type closeOnTimeout struct {
	http.ResponseWriter
	appDone *atomic.Bool
}

func (w *closeOnTimeout) WriteHeader(code int) {
	if code == http.StatusServiceUnavailable && !w.appDone.Load() {
		w.Header().Set("Connection", "close")
	}
	w.ResponseWriter.WriteHeader(code)
}

func trackInFlight(inFlight *atomic.Int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			inFlight.Add(1)
			defer inFlight.Add(-1)
			next.ServeHTTP(w, req)
		})
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		log.Printf("prefork: %s %s -> %d (%dB, %s, req %s)",
			req.Method, req.URL.Path, ww.Status(), ww.BytesWritten(),
			time.Since(start).Round(time.Millisecond), middleware.GetReqID(req.Context()))
	})
}

// crashFault promotes an injected request fault into an adapter panic, which
// the recoverer upstream must contain. Test-only path; a nop unless a fault
// was armed.
func crashFault(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if debug.Faults.ShouldCrashRequest() {
			panic("injected request fault")
		}
		next.ServeHTTP(w, req)
	})
}
