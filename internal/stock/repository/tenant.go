package repository

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
)

// TenantRepository reads the shared tenant registry
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// ListActive returns the IDs of all active tenants.
// public.tenants has no RLS, so no tenant context is needed.
func (r *TenantRepository) ListActive(ctx context.Context) ([]string, error) {
	var ids []string
	query := `SELECT id FROM public.tenants WHERE is_active = TRUE ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, database.MapError(err)
	}
	return ids, nil
}

// TxRunner opens tenant transactions for services that span several repositories
type TxRunner struct {
	db *database.DB
}

// NewTxRunner creates a TxRunner on db
func NewTxRunner(db *database.DB) *TxRunner {
	return &TxRunner{db: db}
}

// WithinTenant runs fn in one tenant transaction. Repository calls made with
// the ctx passed to fn join it.
func (t *TxRunner) WithinTenant(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	return t.db.WithTenantRLS(ctx, tenantID, fn)
}

// Reconnect refreshes the pool after a broken connection or expired credentials.
func (t *TxRunner) Reconnect(ctx context.Context) error {
	return t.db.Reconnect(ctx)
}
