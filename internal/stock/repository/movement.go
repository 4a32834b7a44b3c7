package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

const movementColumns = `
	seq, id, tenant_id, lot_id, product_id, movement_type, quantity_before,
	quantity_delta, quantity_after, reference_type, reference_id, reason,
	operator_id, created_at`

// MovementRepository handles the append-only stock ledger.
// There is no update or delete; a database trigger rejects both.
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Append writes a ledger entry.
// TENANT-ISOLATED: Inserts with tenant_id for RLS
func (r *MovementRepository) Append(ctx context.Context, m *domain.Movement) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.TenantID = tenantID

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO stock_movements (
				id, tenant_id, lot_id, product_id, movement_type, quantity_before,
				quantity_delta, quantity_after, reference_type, reference_id, reason, operator_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING seq, created_at
		`

		return r.db.QueryRowxContext(ctx, query,
			m.ID, tenantID, m.LotID, m.ProductID, m.Type, m.QuantityBefore,
			m.QuantityDelta, m.QuantityAfter, m.ReferenceType, m.ReferenceID,
			m.Reason, m.OperatorID,
		).Scan(&m.Seq, &m.CreatedAt)
	})
	return database.MapError(err)
}

// LastForLot returns the latest movement of a lot, or nil for a lot without history.
func (r *MovementRepository) LastForLot(ctx context.Context, lotID string) (*domain.Movement, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var m domain.Movement
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `SELECT` + movementColumns + ` FROM stock_movements
			WHERE lot_id = $1
			ORDER BY seq DESC
			LIMIT 1`
		return r.db.GetContext(ctx, &m, query, lotID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapError(err)
	}
	return &m, nil
}

// ListByLot returns a lot's movements in commit order.
func (r *MovementRepository) ListByLot(ctx context.Context, lotID string) ([]domain.Movement, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	movements := []domain.Movement{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `SELECT` + movementColumns + ` FROM stock_movements
			WHERE lot_id = $1
			ORDER BY seq`
		return r.db.SelectContext(ctx, &movements, query, lotID)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return movements, nil
}

// snapshot reads the quantity before the first and after the last movement
// of a lot for one business document.
func (r *MovementRepository) snapshot(ctx context.Context, lotID string, ref domain.ReferenceType, refID string) (*domain.LedgerSnapshot, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var row struct {
		Before sql.NullInt64 `db:"before"`
		After  sql.NullInt64 `db:"after"`
	}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT
				(SELECT quantity_before FROM stock_movements
				 WHERE lot_id = $1 AND reference_type = $2 AND reference_id = $3
				 ORDER BY seq LIMIT 1) AS before,
				(SELECT quantity_after FROM stock_movements
				 WHERE lot_id = $1 AND reference_type = $2 AND reference_id = $3
				 ORDER BY seq DESC LIMIT 1) AS after
		`
		return r.db.GetContext(ctx, &row, query, lotID, ref, refID)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	if !row.Before.Valid || !row.After.Valid {
		return nil, nil
	}
	return &domain.LedgerSnapshot{Before: int(row.Before.Int64), After: int(row.After.Int64)}, nil
}

// ReceptionSnapshot returns the lot quantity around a reception's entry
// movement, or nil when the reception never touched the lot.
func (r *MovementRepository) ReceptionSnapshot(ctx context.Context, lotID, receptionID string) (*domain.LedgerSnapshot, error) {
	return r.snapshot(ctx, lotID, domain.ReferenceReception, receptionID)
}

// SalesSnapshot returns the lot quantity around a sales session's exit
// movements, or nil when none were recorded.
func (r *MovementRepository) SalesSnapshot(ctx context.Context, lotID, salesSessionID string) (*domain.LedgerSnapshot, error) {
	return r.snapshot(ctx, lotID, domain.ReferenceSale, salesSessionID)
}

// UnitsSoldByProduct sums sale exits per product over [from, to).
func (r *MovementRepository) UnitsSoldByProduct(ctx context.Context, from, to time.Time) (map[string]int, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ProductID string `db:"product_id"`
		Units     int    `db:"units"`
	}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT product_id, COALESCE(SUM(quantity_delta), 0) AS units
			FROM stock_movements
			WHERE movement_type = 'exit' AND reference_type = 'sale'
			  AND created_at >= $1 AND created_at < $2
			GROUP BY product_id
		`
		return r.db.SelectContext(ctx, &rows, query, from, to)
	})
	if err != nil {
		return nil, database.MapError(err)
	}

	sold := make(map[string]int, len(rows))
	for _, row := range rows {
		sold[row.ProductID] = row.Units
	}
	return sold, nil
}

// DailySales returns units sold per day for a product over [from, to).
// Days without sales have no row.
func (r *MovementRepository) DailySales(ctx context.Context, productID string, from, to time.Time) ([]domain.DailySales, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	series := []domain.DailySales{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT date_trunc('day', created_at) AS day, SUM(quantity_delta) AS units
			FROM stock_movements
			WHERE product_id = $1 AND movement_type = 'exit' AND reference_type = 'sale'
			  AND created_at >= $2 AND created_at < $3
			GROUP BY 1
			ORDER BY 1
		`
		return r.db.SelectContext(ctx, &series, query, productID, from, to)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return series, nil
}
