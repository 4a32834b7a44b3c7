package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

// ReceptionRepository handles receptions and their lines.
// Lines are never edited after creation except for the applied marker.
type ReceptionRepository struct {
	db *database.DB
}

// NewReceptionRepository creates a new reception repository
func NewReceptionRepository(db *database.DB) *ReceptionRepository {
	return &ReceptionRepository{db: db}
}

// Create inserts the header and all lines in one transaction.
// TENANT-ISOLATED: Inserts with tenant_id for RLS
func (r *ReceptionRepository) Create(ctx context.Context, rec *domain.Reception) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = domain.ReceptionDraft
	}
	rec.TenantID = tenantID

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO receptions (
				id, tenant_id, supplier_id, reception_date, agent, reference_invoice,
				total_ht, total_ttc, packaging_ok, temperature_ok, documents_ok, notes,
				status, created_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING created_at, updated_at
		`
		if err := r.db.QueryRowxContext(ctx, query,
			rec.ID, tenantID, rec.SupplierID, rec.ReceptionDate, rec.Agent,
			rec.ReferenceInvoice, rec.TotalHT, rec.TotalTTC, rec.PackagingOK,
			rec.TemperatureOK, rec.DocumentsOK, rec.Notes, rec.Status, rec.CreatedBy,
		).Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return err
		}

		lineQuery := `
			INSERT INTO reception_lines (
				id, tenant_id, reception_id, line_index, product_id, ordered_qty,
				received_qty, accepted_qty, lot_number, expiration_date, unit_cost,
				tax_rate, markup, sale_price, compliance_status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`
		for i := range rec.Lines {
			l := &rec.Lines[i]
			if l.ID == "" {
				l.ID = uuid.New().String()
			}
			if l.ComplianceStatus == "" {
				l.ComplianceStatus = domain.Compliant
			}
			l.TenantID = tenantID
			l.ReceptionID = rec.ID
			if _, err := r.db.ExecContext(ctx, lineQuery,
				l.ID, tenantID, rec.ID, l.LineIndex, l.ProductID, l.OrderedQty,
				l.ReceivedQty, l.AcceptedQty, l.LotNumber, l.ExpirationDate, l.UnitCost,
				l.TaxRate, l.Markup, l.SalePrice, l.ComplianceStatus,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return database.MapError(err)
}

// GetByID gets a reception with its lines ordered by line index.
// TENANT-ISOLATED: Returns only if reception belongs to tenant (via RLS)
func (r *ReceptionRepository) GetByID(ctx context.Context, id string) (*domain.Reception, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rec domain.Reception
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, supplier_id, reception_date, agent, reference_invoice,
			       total_ht, total_ttc, packaging_ok, temperature_ok, documents_ok, notes,
			       status, validated_at, resolved_at, created_by, created_at, updated_at
			FROM receptions WHERE id = $1
		`
		if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
			return err
		}

		lineQuery := `
			SELECT id, tenant_id, reception_id, line_index, product_id, ordered_qty,
			       received_qty, accepted_qty, lot_number, expiration_date, unit_cost,
			       tax_rate, markup, sale_price, compliance_status, applied_at, lot_id
			FROM reception_lines WHERE reception_id = $1
			ORDER BY line_index
		`
		rec.Lines = []domain.ReceptionLine{}
		return r.db.SelectContext(ctx, &rec.Lines, lineQuery, id)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("reception")
		}
		return nil, database.MapError(err)
	}
	return &rec, nil
}

// MarkValidated flips a draft reception to validated. It reports false when
// the reception was not a draft.
func (r *ReceptionRepository) MarkValidated(ctx context.Context, id string, at time.Time) (bool, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return false, err
	}

	var affected int64
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE receptions SET status = 'validated', validated_at = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'draft'
		`
		result, err := r.db.ExecContext(ctx, query, id, at)
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

// MarkLineApplied records that a line produced its lot mutation. The
// applied_at guard makes a second marking a no-op that reports false.
func (r *ReceptionRepository) MarkLineApplied(ctx context.Context, lineID, lotID string, at time.Time) (bool, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return false, err
	}

	var affected int64
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE reception_lines SET applied_at = $3, lot_id = $2
			WHERE id = $1 AND applied_at IS NULL
		`
		result, err := r.db.ExecContext(ctx, query, lineID, lotID, at)
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

// MarkResolved stamps a reception whose lines are all applied.
func (r *ReceptionRepository) MarkResolved(ctx context.Context, id string, at time.Time) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `UPDATE receptions SET resolved_at = $2, updated_at = NOW() WHERE id = $1`
		result, err := r.db.ExecContext(ctx, query, id, at)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("reception")
		}
		return nil
	})
	return database.MapError(err)
}
