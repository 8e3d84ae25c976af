package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/service"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *service.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, version string) *Handler {
	return &Handler{svc: svc, version: version}
}

// CreateCase handles POST /cases: score an evidence bundle and open a
// case in the generated state.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.svc.SubmitEvidence(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// GetCase retrieves a case by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListCases retrieves cases matching query filters.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.CaseFilter{
		State: domain.CaseState(q.Get("state")),
		Limit: intParam(q.Get("limit")),
	}
	filter.MinScore = intParam(q.Get("minScore"))
	filter.MaxScore = intParam(q.Get("maxScore"))

	var err error
	if filter.From, filter.To, err = dateRange(q.Get("from"), q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "from/to must be RFC 3339 timestamps",
		})
		return
	}

	cases, err := h.svc.ListCases(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// Rescore handles POST /cases/{id}/rescore.
func (h *Handler) Rescore(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Rescore(r.Context(), chi.URLParam(r, "id"), r.Header.Get(ActorHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// narrativeRequest is the body for POST /cases/{id}/narrative.
type narrativeRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// AttachNarrative handles POST /cases/{id}/narrative. It exists for
// deployments running without the async worker.
func (h *Handler) AttachNarrative(w http.ResponseWriter, r *http.Request) {
	var req narrativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.svc.AttachNarrative(r.Context(), chi.URLParam(r, "id"), req.Text, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// decisionRequest is the body for review actions.
type decisionRequest struct {
	Comment   string `json:"comment,omitempty"`
	Narrative string `json:"narrative,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func decodeDecision(r *http.Request) decisionRequest {
	var req decisionRequest
	if r.Body != nil {
		// An empty body is fine for review/archive.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

// OpenReview handles POST /cases/{id}/review.
func (h *Handler) OpenReview(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.OpenReview(r.Context(), chi.URLParam(r, "id"), r.Header.Get(ActorHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Approve handles POST /cases/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	req := decodeDecision(r)
	c, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"), r.Header.Get(ActorHeader), req.Comment, req.Narrative)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Reject handles POST /cases/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	req := decodeDecision(r)
	c, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"), r.Header.Get(ActorHeader), req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Reopen handles POST /cases/{id}/reopen.
func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	req := decodeDecision(r)
	c, err := h.svc.Reopen(r.Context(), chi.URLParam(r, "id"), r.Header.Get(ActorHeader), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Archive handles POST /cases/{id}/archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Archive(r.Context(), chi.URLParam(r, "id"), r.Header.Get(ActorHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CaseAudit handles GET /cases/{id}/audit.
func (h *Handler) CaseAudit(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")
	events, err := h.svc.CaseAudit(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"caseId": caseID,
		"events": events,
		"count":  len(events),
	})
}

// QueryAudit handles GET /audit with actor, typology or from/to filters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit := intParam(q.Get("limit"))

	var (
		events []*domain.AuditEvent
		err    error
	)
	switch {
	case q.Get("actor") != "":
		events, err = h.svc.AuditByActor(ctx, q.Get("actor"), limit)
	case q.Get("typology") != "":
		events, err = h.svc.AuditByTypology(ctx, q.Get("typology"), limit)
	case q.Get("from") != "" && q.Get("to") != "":
		var from, to time.Time
		if from, to, err = dateRange(q.Get("from"), q.Get("to")); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "from/to must be RFC 3339 timestamps",
			})
			return
		}
		events, err = h.svc.AuditByDateRange(ctx, from, to, limit)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "one of actor, typology or from/to is required",
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RuleSet handles GET /rules: the active rule set and its version.
func (h *Handler) RuleSet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.RuleSet())
}

// reloadRequest is the body for POST /rules/reload.
type reloadRequest struct {
	Rules             []domain.TypologyRule `json:"rules"`
	HighRiskCountries []string              `json:"highRiskCountries"`
}

// ReloadRules handles POST /rules/reload: compile and activate a new
// rule set. A rule set that fails to compile leaves the active one in
// place.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Rules) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rules are required",
		})
		return
	}

	rs, err := domain.NewRuleSet(req.Rules, req.HighRiskCountries)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.svc.ReloadRules(rs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version": rs.Version,
		"rules":   len(rs.Rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.svc.Ping(r.Context()); err != nil {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, domain.ErrMalformedEvidence):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrStaleNarrativeFill),
		errors.Is(err, domain.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func intParam(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func dateRange(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var err error
	if from != "" {
		if f, err = time.Parse(time.RFC3339, from); err != nil {
			return f, t, err
		}
	}
	if to != "" {
		if t, err = time.Parse(time.RFC3339, to); err != nil {
			return f, t, err
		}
	}
	return f, t, nil
}
