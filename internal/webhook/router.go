package webhook

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/brownbaglunch/webhook/pkg/health"
	"github.com/brownbaglunch/webhook/pkg/metrics"
	"github.com/brownbaglunch/webhook/pkg/middleware"
)

// Route paths, also used as metric labels.
const (
	PathRoot  = "/"
	PathRuns  = "/api/v1/runs"
	PathLive  = "/health/live"
	PathReady = "/health/ready"
)

// NewRouter builds the HTTP handler of the webhook server.
//
// Route table:
//
//	POST /               → trigger a rebuild (signed when a secret is set)
//	GET  /               → trigger a rebuild in development mode, 403 otherwise
//	GET  /api/v1/runs    → recent runs
//	GET  /health/live    → liveness
//	GET  /health/ready   → readiness
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → mux, with RateLimit wrapping the trigger routes only
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, limiter *rate.Limiter) http.Handler {
	mux := http.NewServeMux()

	limited := middleware.RateLimit(limiter, h.RateLimited)
	mux.Handle("POST /{$}", limited(http.HandlerFunc(h.Push)))
	mux.Handle("GET /{$}", limited(http.HandlerFunc(h.Get)))
	mux.HandleFunc("GET "+PathRuns, h.ListRuns)

	if checker != nil {
		mux.HandleFunc("GET "+PathLive, checker.LiveHandler())
		mux.HandleFunc("GET "+PathReady, checker.ReadyHandler())
	}

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.Metrics(m, PathRoot, PathRuns, PathLive, PathReady),
	)
}
