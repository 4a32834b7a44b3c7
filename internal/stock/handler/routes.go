package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/permissions"
)

// Handlers groups the stock API handlers.
type Handlers struct {
	Receptions *ReceptionHandler
	Lots       *LotHandler
	Sessions   *SessionHandler
	Analytics  *AnalyticsHandler
	Alerts     *AlertHandler
}

// Routes mounts the stock API. It expects tenant and operator middleware to
// have run already.
func Routes(h Handlers) func(r chi.Router) {
	need := httputil.RequirePermission

	return func(r chi.Router) {
		r.Route("/receptions", func(r chi.Router) {
			r.With(need(permissions.StockReceptionsWrite)).Post("/", h.Receptions.Create)
			r.With(need(permissions.StockRead)).Get("/{id}", h.Receptions.Get)
			r.With(need(permissions.StockReceptionsWrite)).Post("/{id}/validate", h.Receptions.Validate)
			r.With(need(permissions.StockReceptionsWrite)).Post("/{id}/resolve", h.Receptions.Resolve)
		})

		r.Route("/lots", func(r chi.Router) {
			r.With(need(permissions.StockRead)).Get("/", h.Lots.List)
			r.With(need(permissions.StockAdjust)).Post("/", h.Lots.Create)
			r.With(need(permissions.StockRead)).Get("/{id}", h.Lots.Get)
			r.With(need(permissions.StockRead)).Get("/{id}/movements", h.Lots.Movements)
			r.With(need(permissions.StockRead)).Get("/{id}/verify", h.Lots.Verify)
			r.With(need(permissions.StockAdjust)).Post("/{id}/adjust", h.Lots.Adjust)
			r.With(need(permissions.StockAdjust)).Post("/{id}/consume", h.Lots.Consume)
			r.With(need(permissions.StockRead)).Get("/{id}/risk", h.Lots.Risk)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.With(need(permissions.StockInventoryCount)).Post("/", h.Sessions.Create)
			r.With(need(permissions.StockRead)).Get("/{id}", h.Sessions.Get)
			r.With(need(permissions.StockInventoryCount)).Post("/{id}/initialize", h.Sessions.Initialize)
			r.With(need(permissions.StockRead)).Get("/{id}/items", h.Sessions.ListItems)
			r.With(need(permissions.StockInventoryCount)).Put("/{id}/items/{itemId}/count", h.Sessions.RecordCount)
			r.With(need(permissions.StockInventoryCount)).Delete("/{id}/items/{itemId}/count", h.Sessions.ResetCount)
			r.With(need(permissions.StockInventoryValidate)).Post("/{id}/items/{itemId}/validate", h.Sessions.ValidateItem)
			r.With(need(permissions.StockInventoryValidate)).Post("/{id}/complete", h.Sessions.Complete)
			r.With(need(permissions.StockRead)).Get("/{id}/discrepancies", h.Sessions.Discrepancies)
		})

		r.With(need(permissions.StockAnalyticsRead)).Get("/rotation", h.Analytics.Rotation)
		r.With(need(permissions.StockAnalyticsRead)).Get("/rotation/fifo", h.Analytics.FIFO)
		r.With(need(permissions.StockAnalyticsRead)).Get("/products/{id}/stockout", h.Analytics.Stockout)

		r.With(need(permissions.StockRead)).Get("/alerts", h.Alerts.List)
		r.With(need(permissions.StockAlertsManage)).Put("/alerts/{id}/acknowledge", h.Alerts.Acknowledge)
	}
}
