package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

const productColumns = `
	id, tenant_id, name, barcode, family, unit, cost_price, sale_price,
	default_location, is_active, created_at, updated_at`

// ProductRepository reads the local copy of the product catalog
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID gets a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var p domain.Product
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.GetContext(ctx, &p, `SELECT`+productColumns+` FROM products WHERE id = $1`, id)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, database.MapError(err)
	}
	return &p, nil
}

// GetMany resolves a set of product IDs. Unknown IDs are absent from the map.
func (r *ProductRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var products []domain.Product
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `SELECT` + productColumns + ` FROM products WHERE id::text = ANY($1)`
		return r.db.SelectContext(ctx, &products, query, pq.Array(ids))
	})
	if err != nil {
		return nil, database.MapError(err)
	}

	out := make(map[string]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// List lists active products, optionally narrowed to one product or family.
func (r *ProductRepository) List(ctx context.Context, productID, family string) ([]domain.Product, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + productColumns + ` FROM products WHERE is_active = TRUE`
	args := []interface{}{}
	argIdx := 1
	if productID != "" {
		query += fmt.Sprintf(` AND id = $%d`, argIdx)
		args = append(args, productID)
		argIdx++
	}
	if family != "" {
		query += fmt.Sprintf(` AND family = $%d`, argIdx)
		args = append(args, family)
	}
	query += ` ORDER BY name`

	products := []domain.Product{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.SelectContext(ctx, &products, query, args...)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return products, nil
}

// UpdateSalePrice sets the product's default sale price.
func (r *ProductRepository) UpdateSalePrice(ctx context.Context, id string, price decimal.Decimal) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `UPDATE products SET sale_price = $2, updated_at = NOW() WHERE id = $1`
		result, err := r.db.ExecContext(ctx, query, id, price)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("product")
		}
		return nil
	})
	return database.MapError(err)
}
