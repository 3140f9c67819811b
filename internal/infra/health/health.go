package health

import (
	"net/http"
	"sync/atomic"
)

var (
	ready atomic.Bool
	cause atomic.Value // string, last not-ready reason
)

// SetReady marks readiness state; becoming ready clears any recorded cause.
func SetReady(v bool) {
	ready.Store(v)
	if v {
		cause.Store("")
	}
}

// SetNotReady flags the service not ready and records why, so probes show
// the failing dependency instead of a bare 503.
func SetNotReady(reason string) {
	cause.Store(reason)
	ready.Store(false)
}

// Ready returns current readiness
func Ready() bool { return ready.Load() }

// Healthz is a simple liveness probe
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz reflects application readiness state
func Readyz(w http.ResponseWriter, r *http.Request) {
	if Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	msg := "not ready"
	if s, ok := cause.Load().(string); ok && s != "" {
		msg = "not ready: " + s
	}
	http.Error(w, msg, http.StatusServiceUnavailable)
}
