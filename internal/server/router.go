package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unionfs-tools/mergerd/internal/driver"
	"github.com/unionfs-tools/mergerd/internal/log"
)

// NewRouter wires the API routes:
//
//	POST   /api/v1/mounts          create a union mount
//	DELETE /api/v1/mounts          remove a mount (query: path, recursive, force)
//	GET    /api/v1/mounts          list registered mounts with live status
//	GET    /api/v1/mounts/show     get one mount (query: path)
//	GET    /api/v1/mounts/orphans  live union mounts with no registry entry
//	GET    /health                 liveness probe
//	GET    /metrics                Prometheus metrics
func NewRouter(d *driver.Driver) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h := &mountHandler{driver: d}
	r.Route("/api/v1/mounts", func(r chi.Router) {
		r.Post("/", h.create)
		r.Delete("/", h.remove)
		r.Get("/", h.list)
		r.Get("/show", h.get)
		r.Get("/orphans", h.orphans)
	})

	return r
}

// requestLogger logs each request with its status and duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Message: "healthy"})
}
