package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

// Authentication is handled upstream; the gateway forwards the verified
// caller id in this header.
const userIDHeader = "X-User-ID"

// HTTPHandler exposes the approval engine over HTTP.
type HTTPHandler struct {
	identity    *service.IdentityService
	submissions *service.SubmissionService
	transitions *service.TransitionService
	delegations *service.DelegationService
	escalations *service.EscalationService
	analytics   *service.AnalyticsService
	policies    *service.PolicyAdminService
	dispatcher  *service.OutboxDispatcher
	log         zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	identity *service.IdentityService,
	submissions *service.SubmissionService,
	transitions *service.TransitionService,
	delegations *service.DelegationService,
	escalations *service.EscalationService,
	analytics *service.AnalyticsService,
	policies *service.PolicyAdminService,
	dispatcher *service.OutboxDispatcher,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		identity:    identity,
		submissions: submissions,
		transitions: transitions,
		delegations: delegations,
		escalations: escalations,
		analytics:   analytics,
		policies:    policies,
		dispatcher:  dispatcher,
		log:         log,
	}
}

// Register mounts every route on the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/submissions", h.Submit)

	mux.HandleFunc("GET /api/v1/approvals", h.ListPending)
	mux.HandleFunc("GET /api/v1/approvals/{id}", h.GetApproval)
	mux.HandleFunc("GET /api/v1/approvals/{id}/history", h.GetHistory)
	mux.HandleFunc("POST /api/v1/approvals/{id}/decision", h.Decide)
	mux.HandleFunc("POST /api/v1/approvals/{id}/delegate", h.Delegate)

	mux.HandleFunc("POST /api/v1/workflow/escalate", h.Escalate)
	mux.HandleFunc("GET /api/v1/workflow/overdue", h.Overdue)
	mux.HandleFunc("GET /api/v1/workflow/analytics", h.Analytics)

	mux.HandleFunc("POST /api/v1/policies", h.CreatePolicy)
	mux.HandleFunc("GET /api/v1/policies", h.ListPolicies)
	mux.HandleFunc("GET /api/v1/policies/{id}", h.GetPolicy)
	mux.HandleFunc("PUT /api/v1/policies/{id}", h.UpdatePolicy)
	mux.HandleFunc("DELETE /api/v1/policies/{id}", h.DeactivatePolicy)

	mux.HandleFunc("POST /api/v1/outbox/dispatch", h.DispatchOutbox)
}

// ── Submissions ──────────────────────────────────────────────────────────────

// Submit handles POST /api/v1/submissions.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}

	result, err := h.submissions.Submit(r.Context(), actor, &req)
	if err != nil {
		// A policy block still reports the full verdict to the caller.
		if apperr.Is(err, apperr.CodePolicyViolation) && result != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  errorBody(err),
				"policy": result.Policy,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// ── Approvals ────────────────────────────────────────────────────────────────

// ListPending handles GET /api/v1/approvals. The all=true query switches to
// the admin-wide view.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	all := r.URL.Query().Get("all") == "true"
	approvals, err := h.transitions.ListPending(r.Context(), actor, all)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Grouped by subject kind for the queue UI.
	grouped := make(map[string][]*repository.Approval)
	for _, a := range approvals {
		key := string(a.Subject.Kind)
		grouped[key] = append(grouped[key], a)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"approvals": approvals,
		"by_kind":   grouped,
		"total":     len(approvals),
	})
}

// GetApproval handles GET /api/v1/approvals/{id}.
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	approval, err := h.transitions.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, approval)
}

// GetHistory handles GET /api/v1/approvals/{id}/history.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	events, err := h.transitions.History(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Decide handles POST /api/v1/approvals/{id}/decision.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Decision repository.ApprovalStatus `json:"decision"`
		Comments *string                   `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}

	result, err := h.transitions.Decide(r.Context(), actor, r.PathValue("id"), req.Decision, req.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Delegate handles POST /api/v1/approvals/{id}/delegate.
func (h *HTTPHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		DelegateID string `json:"delegate_id"`
		Reason     string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}

	approval, err := h.delegations.Delegate(r.Context(), actor, r.PathValue("id"), req.DelegateID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, approval)
}

// ── Workflow operations ──────────────────────────────────────────────────────

// Escalate handles POST /api/v1/workflow/escalate. Admin only.
func (h *HTTPHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin {
		h.writeError(w, r, apperr.Unauthorized("only administrators may run escalation"))
		return
	}

	var req struct {
		DaysOverdue int    `json:"days_overdue,omitempty"`
		Action      string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}

	result, err := h.escalations.Run(r.Context(), req.DaysOverdue, req.Action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Overdue handles GET /api/v1/workflow/overdue. Admin only.
func (h *HTTPHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin {
		h.writeError(w, r, apperr.Unauthorized("only administrators may view the overdue summary"))
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days_overdue"))
	summary, err := h.escalations.Summary(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Analytics handles GET /api/v1/workflow/analytics.
func (h *HTTPHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = service.ScopePersonal
	}
	windowDays, _ := strconv.Atoi(r.URL.Query().Get("window_days"))

	report, err := h.analytics.Report(r.Context(), actor, scope, windowDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// ── Policies ─────────────────────────────────────────────────────────────────

// CreatePolicy handles POST /api/v1/policies.
func (h *HTTPHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req service.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}

	policy, err := h.policies.Create(r.Context(), actor, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, policy)
}

// ListPolicies handles GET /api/v1/policies.
func (h *HTTPHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	policies, err := h.policies.List(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"policies": policies, "total": len(policies)})
}

// GetPolicy handles GET /api/v1/policies/{id}.
func (h *HTTPHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	policy, err := h.policies.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, policy)
}

// UpdatePolicy handles PUT /api/v1/policies/{id}.
func (h *HTTPHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req service.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}

	policy, err := h.policies.Update(r.Context(), actor, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, policy)
}

// DeactivatePolicy handles DELETE /api/v1/policies/{id}. Policies are
// deactivated, never removed.
func (h *HTTPHandler) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if err := h.policies.Deactivate(r.Context(), actor, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Outbox ───────────────────────────────────────────────────────────────────

// DispatchOutbox handles POST /api/v1/outbox/dispatch. Admin only; retries
// pending and failed ledger postings.
func (h *HTTPHandler) DispatchOutbox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin {
		h.writeError(w, r, apperr.Unauthorized("only administrators may redispatch the outbox"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	result, err := h.dispatcher.Sweep(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// actor resolves the caller's capability context from the forwarded user id.
// Writes the error response itself when resolution fails.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (*service.Actor, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeError(w, r, apperr.Unauthorized("missing "+userIDHeader+" header"))
		return nil, false
	}

	actor, err := h.identity.ResolveActor(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return actor, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	h.writeJSON(w, status, map[string]any{"error": errorBody(err)})
}

func errorBody(err error) map[string]string {
	return map[string]string{
		"code":    string(apperr.CodeOf(err)),
		"message": err.Error(),
	}
}
