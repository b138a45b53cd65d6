package collector

import (
	"encoding/json"
	"net/http"

	"github.com/greynewell/mist-histogram/health"
	"github.com/greynewell/mist-histogram/metrics"
	"github.com/greynewell/mist-histogram/server"
)

// Server exposes operational visibility for a Collector: liveness and
// readiness probes, an operational metrics dump, and a JSON dump of every
// currently registered histogram. None of this is part of the core's
// recording or snapshotting contract — it is the ambient surface a
// deployable binary needs to be observable.
type Server struct {
	collector *Collector
	health    *health.Handler
	http      *server.Server
}

// NewServer builds a Server bound to addr, wired to report c's registry
// contents and health.
func NewServer(addr string, c *Collector) *Server {
	h := health.New("histcollect", "1.0.0")
	srv := server.New(addr)
	s := &Server{collector: c, health: h, http: srv}

	srv.Handle("GET /healthz", h.Liveness())
	srv.Handle("GET /readyz", h.Readiness())
	srv.Handle("GET /histograms", s.handleHistograms)
	if c.Metrics != nil {
		srv.Handle("GET /metricsz", c.Metrics.Handler())
	}

	return s
}

// AddCheck registers a named readiness dependency check, forwarded to the
// underlying health handler.
func (s *Server) AddCheck(name string, fn health.CheckFunc) {
	s.health.AddCheck(name, fn)
}

// SetReady marks the collector ready or not ready for traffic.
func (s *Server) SetReady(ready bool) {
	s.health.SetReady(ready)
}

// ListenAndServe blocks serving HTTP until the process receives an
// interrupt.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

type histogramSummary struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	TotalCount  int64  `json:"total_count"`
	RedundantCt int32  `json:"redundant_count"`
}

func (s *Server) handleHistograms(w http.ResponseWriter, r *http.Request) {
	handles := s.collector.Registry.All()
	out := make([]histogramSummary, 0, len(handles))
	for _, h := range handles {
		snap := h.SnapshotAll()
		out = append(out, histogramSummary{
			Name:        h.Name(),
			Kind:        h.Kind().String(),
			TotalCount:  snap.TotalCount(),
			RedundantCt: snap.RedundantCount,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
