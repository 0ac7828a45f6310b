package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/eligibility"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/repository"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Evaluator runs the full enrichment pipeline.
type Evaluator interface {
	Run(ctx context.Context, req *domain.EligibilityRequest) (*domain.EligibilityResponse, error)
}

// Invalidator drops cached tenant configuration.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// Results reads persisted evaluations.
type Results interface {
	GetEvaluationRun(ctx context.Context, tenantID int64, requestID string) (*domain.EvaluationRun, error)
	ListAPICallLogs(ctx context.Context, tenantID int64, runID string) ([]domain.APICallLog, error)
}

// Pinger reports dependency health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP handlers. Only Pipeline, Engine
// and Reader are required.
type Deps struct {
	Pipeline    Evaluator
	Engine      *eligibility.Engine
	Reader      domain.ConfigReader
	Results     Results
	Invalidator Invalidator
	Bus         domain.EventBus
	Metrics     *metrics.Metrics

	// Checks are pinged by /health and /ready, keyed by component name.
	Checks map[string]Pinger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps    Deps
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{deps: deps, version: version}
}

// EligibilityRequest is the request body for POST /eligibility.
type EligibilityRequest struct {
	RequestID string            `json:"requestId"`
	Inputs    map[string]string `json:"inputs"`
}

// EvaluationDetail is the response for GET /evaluations/{requestId}.
type EvaluationDetail struct {
	*domain.EligibilityResponse
	EvaluationID string              `json:"evaluationId"`
	Inputs       map[string]string   `json:"inputs"`
	DurationMs   int64               `json:"durationMs"`
	APICalls     []domain.APICallLog `json:"apiCalls"`
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (*domain.EligibilityRequest, bool) {
	var body EligibilityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, false
	}
	if body.Inputs == nil {
		body.Inputs = map[string]string{}
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		requestID = GetRequestID(r.Context())
	} else {
		requestID = body.RequestID
	}
	return &domain.EligibilityRequest{
		TenantID:  GetTenantID(r.Context()),
		RequestID: requestID,
		Inputs:    body.Inputs,
	}, true
}

// Eligibility handles POST /eligibility: validation, enrichment, evaluation
// and persistence. Missing mandatory parameters yield 422 with the names.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.deps.Pipeline.Run(r.Context(), req)
	if err != nil {
		slog.Error("eligibility pipeline failed",
			"tenant_id", req.TenantID,
			"request_id", req.RequestID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to load tenant configuration")
		return
	}

	status := http.StatusOK
	if resp.Rejected() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// EvaluateOnly handles POST /eligibility/evaluate: the decision engine alone,
// without enrichment or persistence.
func (h *Handler) EvaluateOnly(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	snap, err := h.deps.Reader.LoadSnapshot(r.Context(), req.TenantID)
	if err != nil {
		slog.Error("failed to load snapshot", "tenant_id", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tenant configuration")
		return
	}

	d := h.deps.Engine.Evaluate(r.Context(), snap, req.RequestID, req.Inputs)
	writeJSON(w, http.StatusOK, d.Response)
}

// GetEvaluation handles GET /evaluations/{requestId}.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	if h.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation storage not available")
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := chi.URLParam(r, "requestId")

	run, err := h.deps.Results.GetEvaluationRun(ctx, tenantID, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "evaluation not found")
		return
	}
	if err != nil {
		slog.Error("failed to get evaluation", "tenant_id", tenantID, "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get evaluation")
		return
	}

	logs, err := h.deps.Results.ListAPICallLogs(ctx, tenantID, run.ID)
	if err != nil {
		slog.Error("failed to list api calls", "tenant_id", tenantID, "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get evaluation")
		return
	}
	if logs == nil {
		logs = []domain.APICallLog{}
	}

	writeJSON(w, http.StatusOK, EvaluationDetail{
		EligibilityResponse: run.ToResponse(),
		EvaluationID:        run.ID,
		Inputs:              run.Inputs,
		DurationMs:          run.DurationMs,
		APICalls:            logs,
	})
}

// InvalidateConfig handles POST /config/invalidate. The local snapshot is
// dropped and other instances are told through the bus.
func (h *Handler) InvalidateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.deps.Invalidator != nil {
		if err := h.deps.Invalidator.Invalidate(ctx, tenantID); err != nil {
			slog.Error("failed to invalidate snapshot", "tenant_id", tenantID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to invalidate configuration")
			return
		}
		h.deps.Metrics.IncSnapshotInvalidations()
	}

	if h.deps.Bus != nil {
		payload, _ := json.Marshal(map[string]string{"reason": "api"})
		if err := h.deps.Bus.Publish(ctx, domain.TenantKey(tenantID), domain.TopicConfigChanged, payload); err != nil {
			slog.Warn("failed to broadcast config change", "tenant_id", tenantID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"invalidated": true, "tenantId": tenantID})
}

// Health handles GET /health. Failing dependencies degrade the status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, checks := h.runChecks(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready and fails with 503 while any dependency is down.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status, checks := h.runChecks(r.Context())
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": code == http.StatusOK, "checks": checks})
}

func (h *Handler) runChecks(ctx context.Context) (string, map[string]string) {
	status := "healthy"
	checks := make(map[string]string, len(h.deps.Checks))
	for name, p := range h.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	return status, checks
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
