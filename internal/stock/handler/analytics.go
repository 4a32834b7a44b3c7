package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// AnalyticsHandler handles rotation, FIFO and stockout endpoints
type AnalyticsHandler struct {
	rotation *service.RotationService
	logger   *logger.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(rotation *service.RotationService, log *logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		rotation: rotation,
		logger:   log,
	}
}

// Rotation computes turnover per product.
//
// Query: window (monthly|quarterly|yearly|custom), from and to (YYYY-MM-DD),
// product_id, family, class.
func (h *AnalyticsHandler) Rotation(w http.ResponseWriter, r *http.Request) {
	from, err := httputil.QueryDate(r, "from")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	to, err := httputil.QueryDate(r, "to")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	q := r.URL.Query()
	filter := domain.RotationFilter{
		ProductID: q.Get("product_id"),
		Family:    q.Get("family"),
		Class:     domain.RotationClass(q.Get("class")),
	}

	report, err := h.rotation.Analyze(r.Context(), domain.Window(q.Get("window")), from, to, filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// FIFO checks whether picking lot_id follows first-in first-out for product_id
func (h *AnalyticsHandler) FIFO(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, lotID := q.Get("product_id"), q.Get("lot_id")
	details := map[string]string{}
	if productID == "" {
		details["product_id"] = "required"
	}
	if lotID == "" {
		details["lot_id"] = "required"
	}
	if len(details) > 0 {
		httputil.Error(w, errors.Validation(details))
		return
	}

	check, err := h.rotation.CheckFIFO(r.Context(), productID, lotID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, check)
}

// Stockout predicts when a product runs out. ?coefficient= overrides the
// configured demand variation.
func (h *AnalyticsHandler) Stockout(w http.ResponseWriter, r *http.Request) {
	coefficient, err := queryFloat(r, "coefficient")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	pred, err := h.rotation.PredictStockout(r.Context(), chi.URLParam(r, "id"), coefficient)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, pred)
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.Validation(map[string]string{name: "must be a number"})
	}
	return &v, nil
}
