package tenant

import (
	"context"
	"errors"
	"regexp"
)

type contextKey string

const (
	tenantIDKey     contextKey = "tenant_id"
	tenantSlugKey   contextKey = "tenant_slug"
	tenantSchemaKey contextKey = "tenant_schema"
)

// DefaultSchema is used when the gateway sends a tenant without a dedicated schema.
const DefaultSchema = "public"

var (
	// ErrNoTenantInContext is returned when tenant context is missing
	ErrNoTenantInContext = errors.New("no tenant in context")
	// ErrInvalidSchema is returned for schema names that cannot be safely quoted into SET search_path
	ErrInvalidSchema = errors.New("invalid tenant schema")

	schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// Scope is the tenant a stock operation runs under.
type Scope struct {
	ID     string
	Slug   string
	Schema string
}

// WithTenantContext adds all tenant information to the context.
// Called by the HTTP middleware after reading the gateway headers.
func WithTenantContext(ctx context.Context, id, slug, schema string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, id)
	ctx = context.WithValue(ctx, tenantSlugKey, slug)
	ctx = context.WithValue(ctx, tenantSchemaKey, schema)
	return ctx
}

// WithScope is WithTenantContext for a Scope value.
func WithScope(ctx context.Context, s Scope) context.Context {
	return WithTenantContext(ctx, s.ID, s.Slug, s.Schema)
}

// WithTenantID adds only tenant ID to context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID extracts tenant ID from context
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// TenantSlug extracts tenant slug from context
func TenantSlug(ctx context.Context) (string, error) {
	slug, ok := ctx.Value(tenantSlugKey).(string)
	if !ok || slug == "" {
		return "", ErrNoTenantInContext
	}
	return slug, nil
}

// TenantSchema extracts the tenant schema name used for search_path.
// Falls back to DefaultSchema when a tenant ID is present without a schema.
func TenantSchema(ctx context.Context) (string, error) {
	schema, ok := ctx.Value(tenantSchemaKey).(string)
	if !ok || schema == "" {
		if _, err := TenantID(ctx); err != nil {
			return "", err
		}
		return DefaultSchema, nil
	}
	if !ValidSchema(schema) {
		return "", ErrInvalidSchema
	}
	return schema, nil
}

// FromContext returns the full tenant scope stored in ctx.
func FromContext(ctx context.Context) (Scope, error) {
	id, err := TenantID(ctx)
	if err != nil {
		return Scope{}, err
	}
	schema, err := TenantSchema(ctx)
	if err != nil {
		return Scope{}, err
	}
	slug, _ := TenantSlug(ctx)
	return Scope{ID: id, Slug: slug, Schema: schema}, nil
}

// ValidSchema reports whether schema is a plain lowercase identifier.
func ValidSchema(schema string) bool {
	return schemaPattern.MatchString(schema)
}

// MustTenantID extracts tenant ID from context and panics if not found
func MustTenantID(ctx context.Context) string {
	id, err := TenantID(ctx)
	if err != nil {
		panic("tenant ID not found in context")
	}
	return id
}
