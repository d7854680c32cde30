package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Tx wraps *sqlx.Tx. Inside an atomic scope, use DB with the scope's
// context rather than committing a Tx obtained from TxFromContext.
type Tx struct {
	*sqlx.Tx
	cfg *config
}

// GetContext executes a query that returns at most one row and scans into dest.
func (tx *Tx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return tx.cfg.trace(ctx, "sqlx.Tx.Get", query, func(ctx context.Context) error {
		return tx.Tx.GetContext(ctx, dest, query, args...)
	})
}

// SelectContext executes a query and scans all results into dest.
func (tx *Tx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return tx.cfg.trace(ctx, "sqlx.Tx.Select", query, func(ctx context.Context) error {
		return tx.Tx.SelectContext(ctx, dest, query, args...)
	})
}

// NamedExecContext executes a named query within the transaction.
func (tx *Tx) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	var result sql.Result
	err := tx.cfg.trace(ctx, "sqlx.Tx.NamedExec", query, func(ctx context.Context) error {
		var err error
		result, err = tx.Tx.NamedExecContext(ctx, query, arg)
		return err
	})
	return result, err
}

// Unsafe returns a version of Tx that silently ignores missing destination fields.
func (tx *Tx) Unsafe() *Tx {
	return &Tx{
		Tx:  tx.Tx.Unsafe(),
		cfg: tx.cfg,
	}
}
