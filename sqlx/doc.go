// Package sqlx wraps jmoiron/sqlx with call-site tagging and atomic
// transaction scopes.
//
// # Quick Start
//
//	import sqltagsqlx "github.com/kroma-labs/sqltag-go/sqlx"
//
//	db, err := sqltagsqlx.Open("postgres", dsn,
//	    sqltagsqlx.WithTagger(tg),
//	    sqltagsqlx.WithDBSystem("postgresql"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	var user User
//	// Sent as "/* users/handler.go:27 */ SELECT * FROM users WHERE id = $1"
//	err = db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", 1)
//
// # Atomic Scopes
//
// Atomic returns a tagger.Scope backed by a transaction. Scopes nest:
//
//	err := db.Atomic(tagger.WithTag("transfer")).Do(ctx, func(ctx context.Context) error {
//	    // BEGIN
//	    if _, err := db.ExecContext(ctx, debit, from, amount); err != nil {
//	        return err // ROLLBACK
//	    }
//	    return db.Atomic().Do(ctx, func(ctx context.Context) error {
//	        // SAVEPOINT s_...
//	        _, err := db.ExecContext(ctx, credit, to, amount)
//	        return err // RELEASE SAVEPOINT or ROLLBACK TO SAVEPOINT
//	    })
//	    // COMMIT
//	})
//
// The credit statement above is sent as
//
//	/* T=transfer bank/transfer.go:12 |> bank/transfer.go:17 |> bank/transfer.go:19 */ UPDATE ...
//
// ExecContext, QueryContext, QueryRowContext, GetContext, SelectContext,
// NamedExecContext, QueryxContext and QueryRowxContext use the transaction
// of the innermost scope in their context. Other promoted sqlx methods use
// the pool.
//
// # Observability
//
// Traces:
//   - sqlx.Get, sqlx.Select, sqlx.NamedExec, sqlx.Queryx and sqlx.QueryRowx
//     spans parenting the statement spans of the driver wrapper
//
// Metrics:
//   - db.client.transaction.duration (histogram by outcome=commit|rollback and status)
package sqlx
