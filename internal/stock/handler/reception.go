package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// ReceptionHandler handles reception endpoints
type ReceptionHandler struct {
	service *service.ReceptionService
	logger  *logger.Logger
}

// NewReceptionHandler creates a new reception handler
func NewReceptionHandler(svc *service.ReceptionService, log *logger.Logger) *ReceptionHandler {
	return &ReceptionHandler{
		service: svc,
		logger:  log,
	}
}

// Create stores a draft reception
func (h *ReceptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateReceptionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	rec := req.toDomain()
	if err := h.service.Create(r.Context(), rec); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, rec)
}

// Get gets a reception with its lines
func (h *ReceptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

// Validate moves a draft reception to validated
func (h *ReceptionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

// Resolve turns the reception into lots. A run that stopped part way
// answers 207 with the per-line errors and the resume state.
func (h *ReceptionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil && result == nil {
		httputil.Error(w, err)
		return
	}

	if err != nil || !result.Complete() {
		if err == nil {
			err = errors.New("PARTIAL_RESOLUTION", "reception was only partly resolved", http.StatusMultiStatus)
		}
		httputil.MultiStatus(w, result, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
