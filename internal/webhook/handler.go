// Package webhook exposes the HTTP trigger endpoint of the rebuild pipeline
// and a small read API over recent runs.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brownbaglunch/webhook/internal/rebuild"
	"github.com/brownbaglunch/webhook/pkg/config"
	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
	"github.com/brownbaglunch/webhook/pkg/logger"
	"github.com/brownbaglunch/webhook/pkg/metrics"
)

// Response messages kept from the historical deployment.
const (
	msgImported     = "imported cities and baggers..."
	msgNoToken      = "WARN: no token provided. DEV MODE. imported cities and baggers..."
	msgDevGet       = "GET /. DEV MODE. imported cities and baggers..."
	msgWrongToken   = "wrong token"
	msgProdGet      = "PROD MODE. GET / is forbidden..."
	msgBodyTooLarge = "request body too large"
)

const (
	defaultRunsLimit   = 20
	maxRunsLimit       = 100
	defaultMaxBodySize = 5 << 20
)

// Trigger starts or queues a rebuild without waiting for it.
type Trigger interface {
	Trigger(ctx context.Context, source string) rebuild.Ack
}

// RunLister returns the most recent runs, newest first.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]rebuild.Run, error)
}

// Response is the JSON acknowledgement of a trigger request.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// Handler serves the webhook routes.
type Handler struct {
	cfg     config.WebhookConfig
	devMode bool
	trigger Trigger
	runs    RunLister
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler returns a Handler. runs may be nil, in which case the runs API
// answers 404.
func NewHandler(cfg *config.Config, trigger Trigger, runs RunLister, m *metrics.Metrics) *Handler {
	wcfg := cfg.Webhook
	if wcfg.MaxBodyBytes <= 0 {
		wcfg.MaxBodyBytes = defaultMaxBodySize
	}
	if wcfg.SignatureHeader == "" {
		wcfg.SignatureHeader = "X-Hub-Signature"
	}
	return &Handler{
		cfg:     wcfg,
		devMode: cfg.IsDevelopment(),
		trigger: trigger,
		runs:    runs,
		metrics: m,
		logger:  slog.Default().With("component", "webhook"),
	}
}

// Push handles POST /, the GitHub push hook.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context()).With("component", "webhook")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, Response{Status: "rejected", Message: msgBodyTooLarge})
			return
		}
		log.Warn("failed to read webhook body", "error", err)
		h.writeJSON(w, http.StatusBadRequest, Response{Status: "rejected", Message: "unreadable body"})
		return
	}

	if h.cfg.Secret == "" {
		h.start(w, r, rebuild.SourceDevMode, msgNoToken)
		return
	}
	if err := Verify(body, r.Header.Get(h.cfg.SignatureHeader), h.cfg.Secret); err != nil {
		log.Warn("webhook rejected",
			"reason", err,
			"remote_addr", r.RemoteAddr,
		)
		h.countTrigger("unauthorized")
		h.writeJSON(w, apperrors.HTTPStatusCode(err), Response{Status: "rejected", Message: msgWrongToken})
		return
	}
	h.start(w, r, rebuild.SourceWebhook, msgImported)
}

// Get handles GET /, which triggers a run in development mode only.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.devMode {
		h.countTrigger("forbidden")
		h.writeJSON(w, apperrors.HTTPStatusCode(apperrors.ErrForbidden), Response{Status: "rejected", Message: msgProdGet})
		return
	}
	h.start(w, r, rebuild.SourceDevMode, msgDevGet)
}

// ListRuns handles GET /api/v1/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "run history disabled"})
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > maxRunsLimit {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 100"})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.Recent(r.Context(), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list runs", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []rebuild.Run{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// RateLimited is the rejection hook for the trigger rate limiter.
func (h *Handler) RateLimited(r *http.Request) {
	h.countTrigger("rate_limited")
	logger.FromContext(r.Context()).Warn("trigger rate limited", "remote_addr", r.RemoteAddr)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, source, message string) {
	// Runs outlive the request; the scheduler uses its own context.
	ack := h.trigger.Trigger(r.Context(), source)
	h.countTrigger(string(ack.Outcome))
	h.writeJSON(w, http.StatusAccepted, Response{
		Status:  string(ack.Outcome),
		Message: message,
		RunID:   ack.RunID,
	})
}

func (h *Handler) countTrigger(result string) {
	if h.metrics != nil {
		h.metrics.WebhookTriggersTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
