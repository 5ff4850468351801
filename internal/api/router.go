package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// defaultWSPath is used when the WebSocket path is not configured.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	// HTTP device check-in
	r.Post("/device/telemetry", s.handleTelemetry)

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Get("/latest", s.handleGetLatest)
			r.Get("/commands", s.handleListCommands)
			r.Post("/commands", s.handleEnqueueCommand)
		})
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
//
// The gateway itself is healthy whenever it answers. Enabled upstream links
// are checked as well; a failing link turns the status to "degraded" and is
// reported under "links".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	links := make(map[string]string)
	for _, l := range []struct {
		name string
		link Link
	}{
		{name: "mqtt", link: s.mqtt},
		{name: "influxdb", link: s.influx},
	} {
		if l.link == nil {
			continue
		}
		if err := l.link.HealthCheck(ctx); err != nil {
			links[l.name] = err.Error()
			status = "degraded"
			continue
		}
		links[l.name] = "ok"
	}

	resp := map[string]any{
		"ok":      true,
		"status":  status,
		"version": s.version,
	}
	if len(links) > 0 {
		resp["links"] = links
	}
	writeJSON(w, http.StatusOK, resp)
}
