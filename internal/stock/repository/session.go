package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

const sessionColumns = `
	id, tenant_id, label, session_type, status, reception_id, sales_session_id,
	items_total, items_counted, discrepancies, progress_percent, initialized_at,
	started_by, completed_at, completed_by, created_at, updated_at`

const itemColumns = `
	id, tenant_id, session_id, product_id, lot_id, barcode, product_label, lot_number,
	unit, theoretical_location, actual_location, quantity_initial, quantity_movement,
	quantity_theoretical, quantity_counted, status, counted_at, counted_by,
	validated_at, validated_by, created_at, updated_at`

// itemInsertColumns is the number of bound columns per item row in InsertItems.
const itemInsertColumns = 15

// SessionRepository handles inventory sessions and their items
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session.
// TENANT-ISOLATED: Inserts with tenant_id for RLS
func (r *SessionRepository) Create(ctx context.Context, s *domain.InventorySession) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = domain.SessionInProgress
	}
	s.TenantID = tenantID

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO inventory_sessions (
				id, tenant_id, label, session_type, status, reception_id, sales_session_id, started_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at
		`
		return r.db.QueryRowxContext(ctx, query,
			s.ID, tenantID, s.Label, s.Type, s.Status, s.ReceptionID, s.SalesSessionID, s.StartedBy,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
	})
	return database.MapError(err)
}

// GetByID gets a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.InventorySession, error) {
	return r.getSession(ctx, `SELECT`+sessionColumns+` FROM inventory_sessions WHERE id = $1`, id)
}

// LockForUpdate reads a session and holds its row lock for the rest of the
// transaction. Count writers on one session serialize their aggregate
// recomputation on it.
func (r *SessionRepository) LockForUpdate(ctx context.Context, id string) (*domain.InventorySession, error) {
	if !database.InTx(ctx) {
		return nil, fmt.Errorf("LockForUpdate on session %s outside a transaction", id)
	}
	return r.getSession(ctx, `SELECT`+sessionColumns+` FROM inventory_sessions WHERE id = $1 FOR UPDATE`, id)
}

func (r *SessionRepository) getSession(ctx context.Context, query, id string) (*domain.InventorySession, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var s domain.InventorySession
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.GetContext(ctx, &s, query, id)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory session")
		}
		return nil, database.MapError(err)
	}
	return &s, nil
}

// CountItems counts the items already seeded for a session.
func (r *SessionRepository) CountItems(ctx context.Context, sessionID string) (int, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM inventory_items WHERE session_id = $1`, sessionID)
	})
	if err != nil {
		return 0, database.MapError(err)
	}
	return n, nil
}

// InsertItems bulk inserts items, chunkSize rows per statement. Rows that
// already exist for the (session, product, lot) are left alone.
func (r *SessionRepository) InsertItems(ctx context.Context, items []domain.InventoryItem, chunkSize int) (int, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return 0, err
	}
	if chunkSize <= 0 {
		chunkSize = len(items)
	}

	inserted := 0
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		for start := 0; start < len(items); start += chunkSize {
			end := start + chunkSize
			if end > len(items) {
				end = len(items)
			}
			n, err := r.insertChunk(ctx, tenantID, items[start:end])
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, database.MapError(err)
	}
	return inserted, nil
}

func (r *SessionRepository) insertChunk(ctx context.Context, tenantID string, items []domain.InventoryItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO inventory_items (
		id, tenant_id, session_id, product_id, lot_id, barcode, product_label, lot_number,
		unit, theoretical_location, quantity_initial, quantity_movement,
		quantity_theoretical, status, quantity_counted
	) VALUES `)

	args := make([]interface{}, 0, len(items)*itemInsertColumns)
	for i := range items {
		it := &items[i]
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Status == "" {
			it.Status = domain.ItemNotCounted
		}
		it.TenantID = tenantID

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < itemInsertColumns; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*itemInsertColumns+c+1)
		}
		sb.WriteString(")")

		args = append(args,
			it.ID, tenantID, it.SessionID, it.ProductID, it.LotID, it.Barcode,
			it.ProductLabel, it.LotNumber, it.Unit, it.TheoreticalLocation,
			it.QuantityInitial, it.QuantityMovement, it.QuantityTheoretical,
			it.Status, it.QuantityCounted,
		)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	result, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// GetItem gets one item of a session
func (r *SessionRepository) GetItem(ctx context.Context, sessionID, itemID string) (*domain.InventoryItem, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var it domain.InventoryItem
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `SELECT` + itemColumns + ` FROM inventory_items WHERE id = $1 AND session_id = $2`
		return r.db.GetContext(ctx, &it, query, itemID, sessionID)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory item")
		}
		return nil, database.MapError(err)
	}
	return &it, nil
}

// ListItems lists a session's items, optionally by status.
func (r *SessionRepository) ListItems(ctx context.Context, sessionID string, status domain.ItemStatus) ([]domain.InventoryItem, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + itemColumns + ` FROM inventory_items WHERE session_id = $1`
	args := []interface{}{sessionID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY product_label, lot_number NULLS LAST, id`

	items := []domain.InventoryItem{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.SelectContext(ctx, &items, query, args...)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return items, nil
}

// SaveItemCount writes the count fields of an item. Last write wins.
func (r *SessionRepository) SaveItemCount(ctx context.Context, it *domain.InventoryItem) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE inventory_items SET
				quantity_counted = $2, actual_location = $3, status = $4,
				counted_at = $5, counted_by = $6, validated_at = $7, validated_by = $8,
				updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		return r.db.QueryRowxContext(ctx, query,
			it.ID, it.QuantityCounted, it.ActualLocation, it.Status,
			it.CountedAt, it.CountedBy, it.ValidatedAt, it.ValidatedBy,
		).Scan(&it.UpdatedAt)
	})
	if err == sql.ErrNoRows {
		return errors.NotFound("inventory item")
	}
	return database.MapError(err)
}

// Aggregates recomputes session counters from the full item table.
func (r *SessionRepository) Aggregates(ctx context.Context, sessionID string) (domain.Aggregates, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return domain.Aggregates{}, err
	}

	var a domain.Aggregates
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT
				COUNT(*) AS items_total,
				COUNT(*) FILTER (WHERE status <> 'non_compte') AS items_counted,
				COUNT(*) FILTER (WHERE status = 'ecart') AS discrepancies,
				0 AS progress_percent
			FROM inventory_items
			WHERE session_id = $1
		`
		return r.db.GetContext(ctx, &a, query, sessionID)
	})
	if err != nil {
		return domain.Aggregates{}, database.MapError(err)
	}
	a.ProgressPercent = domain.ProgressPercent(a.ItemsCounted, a.ItemsTotal)
	return a, nil
}

// SaveAggregates stores recomputed counters on the session.
func (r *SessionRepository) SaveAggregates(ctx context.Context, sessionID string, a domain.Aggregates) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE inventory_sessions SET
				items_total = $2, items_counted = $3, discrepancies = $4, progress_percent = $5,
				updated_at = NOW()
			WHERE id = $1
		`
		_, err := r.db.ExecContext(ctx, query, sessionID, a.ItemsTotal, a.ItemsCounted, a.Discrepancies, a.ProgressPercent)
		return err
	})
	return database.MapError(err)
}

// MarkInitialized stamps the first successful item seeding.
func (r *SessionRepository) MarkInitialized(ctx context.Context, sessionID string, at time.Time) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE inventory_sessions SET initialized_at = COALESCE(initialized_at, $2), updated_at = NOW()
			WHERE id = $1
		`
		_, err := r.db.ExecContext(ctx, query, sessionID, at)
		return err
	})
	return database.MapError(err)
}

// Complete closes an in-progress session. It reports false when the session
// was already completed.
func (r *SessionRepository) Complete(ctx context.Context, sessionID, operatorID string, at time.Time) (bool, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return false, err
	}

	var affected int64
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE inventory_sessions SET status = 'completed', completed_at = $2, completed_by = $3,
				updated_at = NOW()
			WHERE id = $1 AND status = 'in_progress'
		`
		result, err := r.db.ExecContext(ctx, query, sessionID, at, operatorID)
		if err != nil {
			return err
		}
		affected, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return false, database.MapError(err)
	}
	return affected > 0, nil
}
