package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/pipeline"
)

// Handler holds HTTP handler dependencies.
type Handler struct {
	pipeline *pipeline.Pipeline
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	logger   *slog.Logger
	version  string
}

// NewHandler creates an API handler.
func NewHandler(p *pipeline.Pipeline, repo domain.Repository, cache domain.Cache, bus domain.EventBus, logger *slog.Logger, version string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline: p,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		logger:   logger,
		version:  version,
	}
}

type evaluateRequest struct {
	ID             string                 `json:"id"`
	AccountID      string                 `json:"accountId"`
	CounterpartyID string                 `json:"counterpartyId"`
	Type           string                 `json:"type"`
	Direction      string                 `json:"direction,omitempty"`
	Amount         float64                `json:"amount"`
	Currency       string                 `json:"currency"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// Evaluate handles POST /api/v1/evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		h.writeError(w, r, http.StatusBadRequest, "accountId is required")
		return
	}
	if req.Type == "" {
		h.writeError(w, r, http.StatusBadRequest, "type is required")
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, r, http.StatusBadRequest, "amount must be positive")
		return
	}

	tx := &domain.Transaction{
		ID:             req.ID,
		AccountID:      req.AccountID,
		CounterpartyID: req.CounterpartyID,
		Type:           req.Type,
		Direction:      domain.Direction(req.Direction),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Timestamp:      req.Timestamp,
		Metadata:       req.Metadata,
	}

	assessment, err := h.pipeline.Evaluate(r.Context(), tx)
	if err != nil {
		h.logger.Error("evaluation failed", "tx_id", tx.ID, "error", err)
		h.writeError(w, r, http.StatusServiceUnavailable, "evaluation could not be committed")
		return
	}

	h.writeJSON(w, http.StatusOK, assessment)
}

// GetAssessment handles GET /api/v1/assessments/{id}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	assessment, err := h.repo.GetAssessment(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "assessment not found")
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to load assessment")
		return
	}

	h.writeJSON(w, http.StatusOK, assessment)
}

// ListAssessments handles GET /api/v1/assessments with audit filters.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AssessmentFilter{
		TxID:      q.Get("txId"),
		AccountID: q.Get("accountId"),
		Decision:  domain.Decision(q.Get("decision")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid from timestamp, use RFC3339")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid to timestamp, use RFC3339")
			return
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	assessments, err := h.repo.ListAssessments(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to list assessments")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": assessments,
		"count":       len(assessments),
	})
}

// GetTransaction handles GET /api/v1/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "transaction not found")
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to load transaction")
		return
	}

	h.writeJSON(w, http.StatusOK, tx)
}

// GetTransactionAssessment handles GET /api/v1/transactions/{id}/assessment,
// returning the latest assessment for a transaction.
func (h *Handler) GetTransactionAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	assessment, err := h.repo.GetAssessmentByTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "no assessment for transaction")
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to load assessment")
		return
	}

	h.writeJSON(w, http.StatusOK, assessment)
}

// ListRuleSets handles GET /api/v1/rulesets.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	versions, err := h.repo.ListRuleSetVersions(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to list rule sets")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"active":   h.pipeline.Version(),
	})
}

// GetRuleSet handles GET /api/v1/rulesets/{version}.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	rs, err := h.repo.GetRuleSet(r.Context(), version)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "rule set not found")
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to load rule set")
		return
	}

	h.writeJSON(w, http.StatusOK, rs)
}

// CreateRuleSet handles POST /api/v1/rulesets. The incoming rule set is
// validated, persisted as the active version, and hot-swapped into the
// pipeline. In-flight evaluations finish on the previous version.
func (h *Handler) CreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var rs domain.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if rs.Version == "" {
		h.writeError(w, r, http.StatusBadRequest, "version is required")
		return
	}

	// Reload validates the full set (weights, thresholds, expressions)
	// before anything is swapped or stored.
	if err := h.pipeline.Reload(&rs); err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			h.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to apply rule set")
		return
	}

	if err := h.repo.SaveRuleSet(r.Context(), &rs); err != nil {
		h.logger.Error("rule set saved to pipeline but not persisted",
			"version", rs.Version, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to persist rule set")
		return
	}

	h.logger.Info("rule set created", "version", rs.Version, "rules", len(rs.Rules))
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"version": rs.Version,
		"status":  "active",
	})
}

// ActivateRuleSet handles POST /api/v1/rulesets/{version}/activate,
// re-activating a previously stored version.
func (h *Handler) ActivateRuleSet(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	rs, err := h.repo.GetRuleSet(r.Context(), version)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "rule set not found")
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to load rule set")
		return
	}

	if err := h.pipeline.Reload(rs); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.repo.SaveRuleSet(r.Context(), rs); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to persist activation")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": version,
		"status":  "active",
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true

	if err := h.repo.Ping(ctx); err != nil {
		checks["repository"] = err.Error()
		healthy = false
	} else {
		checks["repository"] = "ok"
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		} else {
			checks["cache"] = "ok"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			checks["bus"] = err.Error()
			healthy = false
		} else {
			checks["bus"] = "ok"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"version":   h.version,
		"ruleSet":   h.pipeline.Version(),
		"checks":    checks,
		"checkedAt": time.Now().UTC(),
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: GetRequestID(r.Context()),
	})
}
