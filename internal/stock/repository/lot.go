// Package repository persists the stock ledger in PostgreSQL.
//
// Every method resolves the tenant from the context and runs inside
// database.WithTenantRLS. Calls made from within an open tenant transaction
// join it, which is how a lot update and its movement commit together.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

const lotColumns = `
	id, tenant_id, product_id, lot_number, quantity_initial, quantity_remaining,
	expiration_date, reception_date, supplier_id, reception_id, unit_cost,
	tax_rate, markup, sale_price, location, created_at, updated_at`

// LotRepository handles lot persistence
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

// Create inserts a lot.
// TENANT-ISOLATED: Inserts with tenant_id for RLS
func (r *LotRepository) Create(ctx context.Context, lot *domain.Lot) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.TenantID = tenantID

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO lots (
				id, tenant_id, product_id, lot_number, quantity_initial, quantity_remaining,
				expiration_date, reception_date, supplier_id, reception_id, unit_cost,
				tax_rate, markup, sale_price, location
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING created_at, updated_at
		`

		return r.db.QueryRowxContext(ctx, query,
			lot.ID, tenantID, lot.ProductID, lot.LotNumber, lot.QuantityInitial,
			lot.QuantityRemaining, lot.ExpirationDate, lot.ReceptionDate, lot.SupplierID,
			lot.ReceptionID, lot.UnitCost, lot.TaxRate, lot.Markup, lot.SalePrice, lot.Location,
		).Scan(&lot.CreatedAt, &lot.UpdatedAt)
	})
	return database.MapError(err)
}

// GetByID gets a lot by ID
// TENANT-ISOLATED: Returns only if lot belongs to tenant (via RLS)
func (r *LotRepository) GetByID(ctx context.Context, id string) (*domain.Lot, error) {
	return r.get(ctx, `SELECT`+lotColumns+` FROM lots WHERE id = $1`, id)
}

// GetForUpdate reads a lot and holds its row lock until the surrounding
// transaction ends. Writers to the same lot queue up behind it.
func (r *LotRepository) GetForUpdate(ctx context.Context, id string) (*domain.Lot, error) {
	if !database.InTx(ctx) {
		return nil, fmt.Errorf("GetForUpdate on lot %s outside a transaction", id)
	}
	return r.get(ctx, `SELECT`+lotColumns+` FROM lots WHERE id = $1 FOR UPDATE`, id)
}

func (r *LotRepository) get(ctx context.Context, query string, args ...interface{}) (*domain.Lot, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var lot domain.Lot
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.GetContext(ctx, &lot, query, args...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, database.MapError(err)
	}
	return &lot, nil
}

// FindByNumber returns the most recent lot of a product with the given lot
// number, or nil when there is none.
func (r *LotRepository) FindByNumber(ctx context.Context, productID, lotNumber string) (*domain.Lot, error) {
	query := `SELECT` + lotColumns + ` FROM lots
		WHERE product_id = $1 AND lot_number = $2
		ORDER BY created_at DESC
		LIMIT 1`

	lot, err := r.get(ctx, query, productID, lotNumber)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return lot, err
}

// UpdateQuantity sets the remaining quantity. Callers write the matching
// movement in the same transaction.
func (r *LotRepository) UpdateQuantity(ctx context.Context, id string, remaining int) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `UPDATE lots SET quantity_remaining = $2, updated_at = NOW() WHERE id = $1`
		result, err := r.db.ExecContext(ctx, query, id, remaining)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("lot")
		}
		return nil
	})
	return database.MapError(err)
}

// UpdatePricing stores sale price fields propagated from a reception line.
func (r *LotRepository) UpdatePricing(ctx context.Context, id string, taxRate, markup, salePrice decimal.NullDecimal) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE lots SET tax_rate = $2, markup = $3, sale_price = $4, updated_at = NOW()
			WHERE id = $1
		`
		result, err := r.db.ExecContext(ctx, query, id, taxRate, markup, salePrice)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("lot")
		}
		return nil
	})
	return database.MapError(err)
}

// List lists lots with filtering, ordered oldest reception first.
// TENANT-ISOLATED: Returns only lots via RLS
func (r *LotRepository) List(ctx context.Context, filter domain.LotFilter) ([]domain.Lot, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + lotColumns + ` FROM lots WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.ProductID != "" {
		query += fmt.Sprintf(` AND product_id = $%d`, argIdx)
		args = append(args, filter.ProductID)
		argIdx++
	}
	if filter.Available {
		query += ` AND quantity_remaining > 0`
	}
	if filter.ExpiringBefore != nil {
		query += fmt.Sprintf(` AND expiration_date IS NOT NULL AND expiration_date <= $%d`, argIdx)
		args = append(args, *filter.ExpiringBefore)
		argIdx++
	}

	query += ` ORDER BY reception_date, expiration_date NULLS LAST, lot_number`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	lots := []domain.Lot{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.SelectContext(ctx, &lots, query, args...)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return lots, nil
}

// ListAvailableByProduct lists a product's lots with stock left.
func (r *LotRepository) ListAvailableByProduct(ctx context.Context, productID string) ([]domain.Lot, error) {
	return r.List(ctx, domain.LotFilter{ProductID: productID, Available: true})
}

// ListExpiring lists lots with stock left that expire on or before the date.
func (r *LotRepository) ListExpiring(ctx context.Context, before time.Time) ([]domain.Lot, error) {
	return r.List(ctx, domain.LotFilter{Available: true, ExpiringBefore: &before})
}
