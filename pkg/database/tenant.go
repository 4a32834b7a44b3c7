package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

type tenantKey struct{}

// WithTenantRLS executes a function with RLS-based tenant isolation.
//
// Usage in repositories:
//
//	tenantID, err := tenant.TenantID(ctx)
//	if err != nil { return err }
//	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
//	    return r.db.GetContext(ctx, &lot, "SELECT * FROM lots WHERE id = $1", id)
//	})
//
// How it works:
//  1. Starts a transaction
//  2. SET LOCAL search_path TO <service schema>, public
//  3. set_config('app.current_tenant', <tenant-uuid>, true), the transaction-local
//     setting the RLS policies compare tenant_id against
//  4. Stores the transaction in ctx so the DB query methods use it
//  5. Commits, which also discards both settings
//
// Calls nest: when ctx already carries a transaction for the same tenant, fn
// joins it instead of opening a new one. Services use this to make a lot
// update and its ledger entry one unit of work across repositories.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	if db.getTx(ctx) != nil {
		if current, _ := ctx.Value(tenantKey{}).(string); current == tenantID {
			return fn(ctx)
		}
		return fmt.Errorf("nested tenant transaction for %s inside tenant %v", tenantID, ctx.Value(tenantKey{}))
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		searchPath := db.searchPath
		if searchPath == "" {
			searchPath = "public"
		}
		// SET does not take bind parameters; searchPath comes from configuration.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", searchPath)); err != nil {
			return fmt.Errorf("failed to set search_path to %s: %w", searchPath, err)
		}

		if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID); err != nil {
			return fmt.Errorf("failed to set app.current_tenant to %s: %w", tenantID, err)
		}

		txCtx := context.WithValue(ctx, txKey{}, tx)
		txCtx = context.WithValue(txCtx, tenantKey{}, tenantID)

		return fn(txCtx)
	})
}

// InTx reports whether ctx carries an open tenant transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// getTx extracts transaction from context if present
func (db *DB) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
