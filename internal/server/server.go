// Package server exposes the daemon's status and Prometheus metrics over
// HTTP, the same shape as the teacher's cmd/internal.Server but trimmed to
// the read-only surface SPEC_FULL.md's status-reporting addition calls for:
// no /reload, since this daemon has no runtime reconfiguration.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netradv/uradvd"
)

// StatusSource is the read-only slice of *uradvd.Reactor the HTTP server
// needs; kept as an interface so tests can serve a canned Status without a
// live reactor.
type StatusSource interface {
	Status() uradvd.Status
}

type Server struct {
	http.Server
	source StatusSource
	logger *slog.Logger
}

func New(addr string, source StatusSource, registry prometheus.Gatherer, logger *slog.Logger) *Server {
	srv := &Server{source: source, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", srv.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv.Addr = addr
	srv.Handler = mux

	return srv
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := s.source.Status()

	j, err := json.Marshal(status)
	if err != nil {
		s.logger.Error("failed to marshal status", "error", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(j)
}
