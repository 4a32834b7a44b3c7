package repository

import (
	"context"
	"database/sql"

	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

// OperatorCacheRepository keeps display data for operators, fed by user events
type OperatorCacheRepository struct {
	db *database.DB
}

// NewOperatorCacheRepository creates a new operator cache repository
func NewOperatorCacheRepository(db *database.DB) *OperatorCacheRepository {
	return &OperatorCacheRepository{db: db}
}

// Set creates or updates a cached operator
// TENANT-ISOLATED: Uses tenant ID from context for RLS
func (r *OperatorCacheRepository) Set(ctx context.Context, op *actor.OperatorCache) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	op.TenantID = tenantID

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO operator_cache (tenant_id, user_id, first_name, last_name, email, role_name, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (tenant_id, user_id)
			DO UPDATE SET first_name = $3, last_name = $4, email = $5, role_name = $6, updated_at = NOW()
		`
		_, err := r.db.ExecContext(ctx, query, tenantID, op.UserID, op.FirstName, op.LastName, op.Email, op.RoleName)
		return err
	})
	return database.MapError(err)
}

// Get gets a cached operator, or nil when unknown
// TENANT-ISOLATED: Uses tenant ID from context for RLS
func (r *OperatorCacheRepository) Get(ctx context.Context, userID string) (*actor.OperatorCache, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var op actor.OperatorCache
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT user_id, tenant_id, first_name, last_name, email, role_name
			FROM operator_cache WHERE user_id = $1
		`
		return r.db.GetContext(ctx, &op, query, userID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapError(err)
	}
	return &op, nil
}

// Delete deletes a cached operator
// TENANT-ISOLATED: Uses tenant ID from context for RLS
func (r *OperatorCacheRepository) Delete(ctx context.Context, userID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM operator_cache WHERE user_id = $1`, userID)
		return err
	})
	return database.MapError(err)
}
