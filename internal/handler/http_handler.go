package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/service"
)

// HTTPHandler exposes the engine's thin HTTP surface: event ingestion,
// task and voucher inspection, and review resolution.
type HTTPHandler struct {
	events    *repository.EventRepository
	tasks     *repository.TaskRepository
	decisions *repository.DecisionRepository
	vouchers  *repository.VoucherRepository
	audit     *repository.AuditRepository
	reviews   *service.ReviewService
	posting   *service.PostingService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	events *repository.EventRepository,
	tasks *repository.TaskRepository,
	decisions *repository.DecisionRepository,
	vouchers *repository.VoucherRepository,
	audit *repository.AuditRepository,
	reviews *service.ReviewService,
	posting *service.PostingService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		events:    events,
		tasks:     tasks,
		decisions: decisions,
		vouchers:  vouchers,
		audit:     audit,
		reviews:   reviews,
		posting:   posting,
		log:       log,
	}
}

// Routes mounts all endpoints on a router.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", h.AppendEvent)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/decisions/{id}", h.GetDecision)
		r.Get("/reviews", h.ListPendingReviews)
		r.Get("/reviews/{id}", h.GetReview)
		r.Post("/reviews/{id}/approve", h.ApproveReview)
		r.Post("/reviews/{id}/correct", h.CorrectReview)
		r.Post("/reviews/{id}/reject", h.RejectReview)
		r.Get("/vouchers/{id}", h.GetVoucher)
		r.Post("/vouchers/{id}/reverse", h.ReverseVoucher)
		r.Get("/audit", h.ListAudit)
	})
}

// Health handles liveness checks.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type appendEventRequest struct {
	TenantID string          `json:"tenant_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// AppendEvent handles event ingestion from collaborators.
func (h *HTTPHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.TenantID == "" || req.Type == "" {
		h.writeError(w, apperrors.InvalidInput("body", "tenant_id and type are required"))
		return
	}

	ev := &repository.Event{
		TenantID: req.TenantID,
		Type:     req.Type,
		Payload:  req.Payload,
	}
	if err := h.events.Append(r.Context(), ev); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": ev.ID})
}

// ListTasks handles task list requests, optionally filtered by status.
func (h *HTTPHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeError(w, apperrors.InvalidInput("tenant_id", "is required"))
		return
	}

	var status *string
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}
	limit, offset := h.pagination(r)

	tasks, err := h.tasks.List(r.Context(), tenantID, status, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles single task requests.
func (h *HTTPHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

// GetDecision handles single decision requests, feedback included.
func (h *HTTPHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	decision, err := h.decisions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

// ListPendingReviews handles review queue list requests.
func (h *HTTPHandler) ListPendingReviews(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeError(w, apperrors.InvalidInput("tenant_id", "is required"))
		return
	}
	limit, offset := h.pagination(r)

	items, err := h.reviews.ListPending(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// GetReview handles single review item requests.
func (h *HTTPHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	item, err := h.reviews.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

type approveRequest struct {
	By    string  `json:"by"`
	Notes *string `json:"notes,omitempty"`
}

// ApproveReview posts the AI suggestion unchanged and resolves the item.
func (h *HTTPHandler) ApproveReview(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.By == "" {
		h.writeError(w, apperrors.InvalidInput("by", "is required"))
		return
	}

	voucherID, err := h.reviews.Approve(r.Context(), chi.URLParam(r, "id"), req.By, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"voucher_id": voucherID})
}

type correctRequest struct {
	By             string                `json:"by"`
	Corrected      *service.VoucherDraft `json:"corrected"`
	Reason         string                `json:"reason"`
	ApplyToSimilar bool                  `json:"apply_to_similar"`
}

// CorrectReview posts a human-corrected draft and records the correction.
func (h *HTTPHandler) CorrectReview(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.By == "" || req.Corrected == nil || req.Reason == "" {
		h.writeError(w, apperrors.InvalidInput("body", "by, corrected and reason are required"))
		return
	}

	voucherID, err := h.reviews.Correct(r.Context(), chi.URLParam(r, "id"), req.By, req.Corrected, req.Reason, req.ApplyToSimilar)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"voucher_id": voucherID})
}

type rejectRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

// RejectReview resolves an item without posting anything.
func (h *HTTPHandler) RejectReview(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.By == "" || req.Reason == "" {
		h.writeError(w, apperrors.InvalidInput("body", "by and reason are required"))
		return
	}

	if err := h.reviews.Reject(r.Context(), chi.URLParam(r, "id"), req.By, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": repository.ReviewStatusRejected})
}

// GetVoucher handles single voucher requests, lines included.
func (h *HTTPHandler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := h.vouchers.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, voucher)
}

type reverseRequest struct {
	TenantID string `json:"tenant_id"`
	By       string `json:"by"`
}

// ReverseVoucher creates a balancing voucher for a committed one.
func (h *HTTPHandler) ReverseVoucher(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.TenantID == "" || req.By == "" {
		h.writeError(w, apperrors.InvalidInput("body", "tenant_id and by are required"))
		return
	}

	reversalID, err := h.posting.Reverse(r.Context(), chi.URLParam(r, "id"), req.TenantID, req.By)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"reversal_id": reversalID})
}

// ListAudit handles audit trail requests, by subject or by tenant.
func (h *HTTPHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if subjectID := r.URL.Query().Get("subject_id"); subjectID != "" {
		entries, err := h.audit.GetBySubject(r.Context(), subjectID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, entries)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeError(w, apperrors.InvalidInput("query", "subject_id or tenant_id is required"))
		return
	}
	limit, offset := h.pagination(r)

	entries, err := h.audit.ListByTenant(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to write response body")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := statusForCode(apperrors.Code(err))
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	h.writeJSON(w, status, errorResponse{
		Code:    string(apperrors.Code(err)),
		Message: err.Error(),
	})
}

func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeValidation,
		apperrors.ErrCodeUnbalanced, apperrors.ErrCodePeriodClosed,
		apperrors.ErrCodeUnknownAccount:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
