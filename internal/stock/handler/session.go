package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// SessionHandler handles inventory session endpoints
type SessionHandler struct {
	service *service.ReconciliationService
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(svc *service.ReconciliationService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// Create opens an inventory session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	sess, err := h.service.CreateSession(r.Context(), domain.SessionType(req.Type), req.SourceRef, req.Label)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, sess)
}

// Get gets a session with its aggregates
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sess)
}

// Initialize builds the session's items
func (h *SessionHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	created, err := h.service.Initialize(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    id,
		"items_created": created,
	})
}

// ListItems lists a session's items, optionally by status
func (h *SessionHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	status := domain.ItemStatus(r.URL.Query().Get("status"))
	items, err := h.service.ListItems(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, items)
}

// RecordCount records a physical count
func (h *SessionHandler) RecordCount(w http.ResponseWriter, r *http.Request) {
	var req RecordCountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.service.RecordCount(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), *req.Counted, req.Location)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// ResetCount clears a count
func (h *SessionHandler) ResetCount(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.ResetCount(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// ValidateItem signs off a counted item
func (h *SessionHandler) ValidateItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.ValidateItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Complete closes the session
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sess)
}

// Discrepancies reports counted minus theoretical per item
func (h *SessionHandler) Discrepancies(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.DiscrepancyReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}
