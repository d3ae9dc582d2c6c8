package metrics

import (
	"net/http"
	"sync/atomic"
)

// Readiness is a readiness gate: false until the owning process calls
// SetReady, after which /healthz reports 200 instead of 503. Intended for
// k8s-style readiness probes on a gateway or listener process.
type Readiness struct {
	ready atomic.Bool
}

// NewReadiness returns a Readiness gate that starts out not ready.
func NewReadiness() *Readiness {
	return &Readiness{}
}

// SetReady marks the gate ready (or not, if ready is false).
func (r *Readiness) SetReady(ready bool) {
	r.ready.Store(ready)
}

func (r *Readiness) handle(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}
