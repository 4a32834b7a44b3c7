package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

// TestTenant represents a tenant created for testing
type TestTenant struct {
	ID   string
	Slug string
}

// TenantManager handles tenant creation and cleanup for tests.
// Tenants share the stock schema; RLS keeps their rows apart.
type TenantManager struct {
	db      *sqlx.DB
	tenants []*TestTenant
	mu      sync.Mutex
}

// NewTenantManager creates a new tenant manager
func NewTenantManager(db *sqlx.DB) *TenantManager {
	return &TenantManager{
		db:      db,
		tenants: make([]*TestTenant, 0),
	}
}

// CreateTenant registers an active tenant in public.tenants
func (tm *TenantManager) CreateTenant(ctx context.Context, name string) (*TestTenant, error) {
	id := uuid.New().String()
	slug := fmt.Sprintf("test-%s-%s", strings.ToLower(strings.ReplaceAll(name, " ", "-")), id[:8])

	_, err := tm.db.ExecContext(ctx,
		`INSERT INTO public.tenants (id, slug, is_active) VALUES ($1, $2, TRUE)`, id, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant record: %w", err)
	}

	t := &TestTenant{ID: id, Slug: slug}

	tm.mu.Lock()
	tm.tenants = append(tm.tenants, t)
	tm.mu.Unlock()

	return t, nil
}

// DeactivateTenant marks a tenant inactive. Its rows stay behind its RLS
// policy, invisible to every other tenant.
func (tm *TenantManager) DeactivateTenant(ctx context.Context, t *TestTenant) error {
	_, err := tm.db.ExecContext(ctx, `UPDATE public.tenants SET is_active = FALSE WHERE id = $1`, t.ID)
	if err != nil {
		return fmt.Errorf("failed to deactivate tenant %s: %w", t.Slug, err)
	}
	return nil
}

// Cleanup deactivates all tenants created by this manager
func (tm *TenantManager) Cleanup(ctx context.Context) error {
	tm.mu.Lock()
	tenants := tm.tenants
	tm.tenants = make([]*TestTenant, 0)
	tm.mu.Unlock()

	var errs []string
	for _, t := range tenants {
		if err := tm.DeactivateTenant(ctx, t); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// WithTestTenant adds test tenant context to a context
func WithTestTenant(ctx context.Context, t *TestTenant) context.Context {
	return tenant.WithTenantContext(ctx, t.ID, t.Slug, "")
}

// DefaultTenantID is the tenant used by unit tests that need no database
const DefaultTenantID = "7b0c2a8e-3f4d-4c1e-9a55-0d7e6f1a2b3c"

// TestTenantContext returns a context with the default test tenant
func TestTenantContext() context.Context {
	return tenant.WithTenantContext(context.Background(), DefaultTenantID, "test-pharmacy", "")
}
