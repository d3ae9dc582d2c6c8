// Package metrics runs the small HTTP server every node (gateway or
// listener) exposes for operational visibility: Prometheus scraping and a
// readiness probe, mirroring the teacher's promhttp-based metrics server
// but scoped down to what this system's processes actually need.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server serves /metrics (Prometheus exposition) and /healthz (readiness)
// on its own listener, independent of the gateway's public ingress port.
type Server struct {
	http  *http.Server
	log   zerolog.Logger
	ready *Readiness
}

// New returns a Server bound to addr. Call Serve to run it.
func New(addr string, ready *Readiness, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", ready.handle)

	return &Server{
		http:  &http.Server{Addr: addr, Handler: mux},
		log:   log,
		ready: ready,
	}
}

// Serve runs the metrics server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = s.http.Close()
	}()
	if err := s.http.Serve(ln); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("metrics: server stopped")
		return err
	}
	return nil
}
