package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes вешает admin API на mux. Служебные /healthz и /metrics
// идут мимо middleware, чтобы пробы не засоряли access-лог.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	wrap := Chain(Recovery(h.logger), Logging(h.logger))

	routes := map[string]http.HandlerFunc{
		"GET /api/v1/workflows":               h.ListWorkflows,
		"POST /api/v1/workflows":              h.ApplyWorkflow,
		"GET /api/v1/workflows/{id}":          h.GetWorkflow,
		"POST /api/v1/workflows/{id}/trigger": h.TriggerWorkflow,
		"GET /api/v1/runs":                    h.ListRuns,
		"GET /api/v1/runs/{id}":               h.GetRun,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, wrap(fn))
	}

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
}
