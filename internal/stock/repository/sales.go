package repository

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

// SalesRepository reads sale lines written by the point-of-sale service
type SalesRepository struct {
	db *database.DB
}

// NewSalesRepository creates a new sales repository
func NewSalesRepository(db *database.DB) *SalesRepository {
	return &SalesRepository{db: db}
}

// SoldBySession totals a sales session's lines per (product, lot).
func (r *SalesRepository) SoldBySession(ctx context.Context, salesSessionID string) ([]domain.SoldQuantity, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	sold := []domain.SoldQuantity{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT product_id, lot_id, SUM(quantity) AS quantity
			FROM sale_lines
			WHERE sales_session_id = $1
			GROUP BY product_id, lot_id
			ORDER BY product_id, lot_id
		`
		return r.db.SelectContext(ctx, &sold, query, salesSessionID)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return sold, nil
}
