package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves /metrics from m's registry and a /healthz probe.
func Handler(m *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

// NewServer creates an HTTP server serving Handler(m) on addr.
func NewServer(addr string, m *Metrics) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(m),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
