package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

const alertColumns = `
	id, tenant_id, alert_type, severity, product_id, lot_id, message, estimated_loss,
	status, acknowledged_by, acknowledged_at, created_at`

// AlertRepository handles stock alert persistence
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateIfAbsent inserts an open alert unless one is already open for the same
// type, product and lot. It reports whether a row was written.
func (r *AlertRepository) CreateIfAbsent(ctx context.Context, a *domain.Alert) (bool, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return false, err
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	a.TenantID = tenantID

	var affected int64
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO stock_alerts (
				id, tenant_id, alert_type, severity, product_id, lot_id, message, estimated_loss, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT DO NOTHING
		`
		result, err := r.db.ExecContext(ctx, query,
			a.ID, tenantID, a.Type, a.Severity, a.ProductID, a.LotID, a.Message, a.EstimatedLoss, a.Status,
		)
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

// List lists alerts with filtering, critical first.
// TENANT-ISOLATED: Returns only alerts via RLS
func (r *AlertRepository) List(ctx context.Context, filter domain.AlertFilter, page, perPage int) ([]domain.Alert, int64, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		where += fmt.Sprintf(` AND alert_type = $%d`, argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Severity != "" {
		where += fmt.Sprintf(` AND severity = $%d`, argIdx)
		args = append(args, filter.Severity)
		argIdx++
	}

	var total int64
	alerts := []domain.Alert{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_alerts`+where, args...); err != nil {
			return err
		}

		query := `SELECT` + alertColumns + ` FROM stock_alerts` + where +
			` ORDER BY CASE severity WHEN 'critical' THEN 0 WHEN 'high' THEN 1 ELSE 2 END, created_at DESC` +
			fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
		offset := (page - 1) * perPage
		return r.db.SelectContext(ctx, &alerts, query, append(args, perPage, offset)...)
	})
	if err != nil {
		return nil, 0, database.MapError(err)
	}
	return alerts, total, nil
}

// Acknowledge closes an open alert.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, userID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE stock_alerts
			SET status = 'acknowledged', acknowledged_by = $2, acknowledged_at = NOW()
			WHERE id = $1 AND status = 'open'
		`
		result, err := r.db.ExecContext(ctx, query, id, userID)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("open alert")
		}
		return nil
	})
	return database.MapError(err)
}
