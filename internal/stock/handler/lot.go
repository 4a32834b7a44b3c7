package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// LotHandler handles lot and ledger endpoints
type LotHandler struct {
	service *service.LotService
	risk    *service.RiskService
	logger  *logger.Logger
	now     func() time.Time
}

// NewLotHandler creates a new lot handler
func NewLotHandler(svc *service.LotService, risk *service.RiskService, log *logger.Logger) *LotHandler {
	return &LotHandler{
		service: svc,
		risk:    risk,
		logger:  log,
		now:     time.Now,
	}
}

// List lists lots, optionally for one product
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.LotFilter{
		ProductID: q.Get("product_id"),
		Available: q.Get("available") == "true",
	}

	expiring, err := httputil.QueryDate(r, "expiring_before")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if !expiring.IsZero() {
		filter.ExpiringBefore = &expiring
	}
	if filter.Limit, err = httputil.QueryInt(r, "limit", 100); err != nil {
		httputil.Error(w, err)
		return
	}
	if filter.Offset, err = httputil.QueryInt(r, "offset", 0); err != nil {
		httputil.Error(w, err)
		return
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	lots, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Create registers a lot from manual entry
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.CreateManualLot(r.Context(), req.toDomain(h.now()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, lot)
}

// Get gets a lot by ID
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	lot, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Movements lists a lot's ledger
func (h *LotHandler) Movements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.service.Movements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movements)
}

// Verify replays a lot's ledger and reports violations
func (h *LotHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// Adjust applies a manual correction
func (h *LotHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.AdjustLot(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, movement)
}

// Consume records a sale exit
func (h *LotHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.ConsumeLot(r.Context(), chi.URLParam(r, "id"), req.Quantity, req.SaleRef)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Risk assesses the lot's expiration risk. ?velocity= overrides the
// observed sales velocity.
func (h *LotHandler) Risk(w http.ResponseWriter, r *http.Request) {
	velocity, err := queryFloat(r, "velocity")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	risk, err := h.risk.AssessExpirationRisk(r.Context(), chi.URLParam(r, "id"), velocity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, risk)
}
