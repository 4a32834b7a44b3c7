package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

// AuditTrailRepository handles audit trail persistence.
// All operations are append-only: no UPDATE or DELETE is permitted.
type AuditTrailRepository struct {
	db *database.DB
}

// NewAuditTrailRepository creates a new audit trail repository
func NewAuditTrailRepository(db *database.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

// Create creates a new audit trail entry
// TENANT-ISOLATED: Inserts with tenant_id for RLS
func (r *AuditTrailRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.TenantID = tenantID

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO audit_trail (id, tenant_id, entity_type, entity_id, action, operator_id, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`
		return r.db.QueryRowxContext(ctx, query,
			entry.ID, tenantID, entry.EntityType, entry.EntityID, entry.Action,
			entry.OperatorID, entry.Details,
		).Scan(&entry.CreatedAt)
	})
	return database.MapError(err)
}

// ListByEntity lists audit entries for an entity, newest first
// TENANT-ISOLATED: Returns only entries via RLS
func (r *AuditTrailRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	entries := []domain.AuditEntry{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, entity_type, entity_id, action, operator_id, details, created_at
			FROM audit_trail
			WHERE entity_type = $1 AND entity_id = $2
			ORDER BY created_at DESC
		`
		return r.db.SelectContext(ctx, &entries, query, entityType, entityID)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return entries, nil
}
