package tenancy

import (
	"context"
	"database/sql"
	"fmt"
)

// Row-level-security policies on tenant-scoped tables read the
// app.tenant_id setting, e.g.:
//
//	ALTER TABLE positions ENABLE ROW LEVEL SECURITY;
//	CREATE POLICY tenant_isolation ON positions
//	    USING (tenant_id = current_setting('app.tenant_id', true)::uuid);
//	CREATE POLICY operator_bypass ON positions
//	    USING (current_setting('app.bypass_tenant_isolation', true) = 'on');
//
// With no setting present, current_setting(..., true) yields NULL and both
// policies evaluate false: a transaction that forgot BeginScoped sees no
// tenant-scoped rows at all. The engine fails closed by construction.

// BeginScoped opens a transaction and binds the caller's tenant scope to it
// via set_config(..., is_local => true), the parameterizable equivalent of
// SET LOCAL. The setting dies with the transaction, so it can never leak
// across pooled-connection reuse; never set it at connection level.
func BeginScoped(ctx context.Context, db *sql.DB, scope Scope) (*sql.Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin scoped transaction: %w", err)
	}

	if err := applyScope(ctx, tx, scope); err != nil {
		// fail closed: a transaction whose scope could not be applied
		// must never run queries
		_ = tx.Rollback()
		return nil, err
	}
	return tx, nil
}

func applyScope(ctx context.Context, tx *sql.Tx, scope Scope) error {
	if scope.Bypass {
		if _, err := tx.ExecContext(ctx,
			`SELECT set_config('app.bypass_tenant_isolation', 'on', true)`); err != nil {
			return fmt.Errorf("failed to set bypass context: %w", err)
		}
		return nil
	}

	if scope.TenantID == "" {
		return ErrMisconfiguredTenant
	}
	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('app.tenant_id', $1, true)`, scope.TenantID); err != nil {
		return fmt.Errorf("failed to set tenant context: %w", err)
	}
	return nil
}

// WithScope runs fn inside a tenant-scoped transaction, committing on
// success and rolling back on error or panic.
func WithScope(ctx context.Context, db *sql.DB, scope Scope, fn func(tx *sql.Tx) error) error {
	tx, err := BeginScoped(ctx, db, scope)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scoped transaction: %w", err)
	}
	return nil
}
