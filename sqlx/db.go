package sqlx

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/jmoiron/sqlx"

	sqltagsql "github.com/kroma-labs/sqltag-go/sql"
)

// DB wraps *sqlx.DB. Statements are tagged by the driver wrapper installed
// underneath, and the query methods below run inside the transaction of the
// innermost atomic scope carried by the context, if any.
type DB struct {
	*sqlx.DB
	cfg *config
}

// ext is the query surface shared by *sqlx.DB and *sqlx.Tx.
type ext interface {
	sqlx.ExtContext
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

var (
	_ ext = (*sqlx.DB)(nil)
	_ ext = (*sqlx.Tx)(nil)
)

// Open opens a database whose driver is wrapped with call-site tagging and
// OpenTelemetry instrumentation.
//
// Example:
//
//	db, err := sqltagsqlx.Open("postgres", dsn,
//	    sqltagsqlx.WithTagger(tg),
//	    sqltagsqlx.WithDBSystem("postgresql"),
//	    sqltagsqlx.WithDBName("mydb"),
//	)
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	cfg := newConfig(opts...)

	db, err := sqltagsql.Open(driverName, dsn, cfg.driverOptions()...)
	if err != nil {
		return nil, err
	}

	return &DB{DB: sqlx.NewDb(db, driverName), cfg: cfg}, nil
}

// OpenDB is like Open for a driver value. driverName selects the bind
// variable style, as in sqlx.NewDb.
func OpenDB(d driver.Driver, driverName, dsn string, opts ...Option) (*DB, error) {
	cfg := newConfig(opts...)

	db, err := sqltagsql.OpenDB(d, dsn, cfg.driverOptions()...)
	if err != nil {
		return nil, err
	}

	return &DB{DB: sqlx.NewDb(db, driverName), cfg: cfg}, nil
}

// Connect opens and verifies a database connection.
// It is equivalent to Open followed by Ping.
//
// Example:
//
//	db, err := sqltagsqlx.Connect(ctx, "postgres", dsn,
//	    sqltagsqlx.WithTagger(tg),
//	)
func Connect(ctx context.Context, driverName, dsn string, opts ...Option) (*DB, error) {
	db, err := Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// NewDB wraps an existing *sql.DB. Statements are only tagged when db was
// opened through the sql package of this module; atomic scopes work either way.
//
// Example:
//
//	sqlDB, _ := sqltagsql.Open("postgres", dsn, sqltagsql.WithTagger(tg))
//	db := sqltagsqlx.NewDB(sqlDB, "postgres", sqltagsqlx.WithTagger(tg))
func NewDB(db *sql.DB, driverName string, opts ...Option) *DB {
	cfg := newConfig(opts...)
	return &DB{
		DB:  sqlx.NewDb(db, driverName),
		cfg: cfg,
	}
}

// MustConnect is like Connect but panics on error.
func MustConnect(ctx context.Context, driverName, dsn string, opts ...Option) *DB {
	db, err := Connect(ctx, driverName, dsn, opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// MustOpen is like Open but panics on error.
func MustOpen(driverName, dsn string, opts ...Option) *DB {
	db, err := Open(driverName, dsn, opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// conn returns the transaction of the innermost atomic scope in ctx, or the
// pool when there is none.
func (db *DB) conn(ctx context.Context) ext {
	if e, ok := entryFromContext(ctx, db.cfg); ok {
		return e.tx.Tx
	}
	return db.DB
}

// TxFromContext returns the transaction of the innermost atomic scope of db
// active in ctx.
func (db *DB) TxFromContext(ctx context.Context) (*Tx, bool) {
	e, ok := entryFromContext(ctx, db.cfg)
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// GetContext executes a query that is expected to return at most one row
// and scans the result into dest.
func (db *DB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return db.cfg.trace(ctx, "sqlx.Get", query, func(ctx context.Context) error {
		return db.conn(ctx).GetContext(ctx, dest, query, args...)
	})
}

// SelectContext executes a query and scans all results into dest.
func (db *DB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return db.cfg.trace(ctx, "sqlx.Select", query, func(ctx context.Context) error {
		return db.conn(ctx).SelectContext(ctx, dest, query, args...)
	})
}

// NamedExecContext executes a named query.
func (db *DB) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	var result sql.Result
	err := db.cfg.trace(ctx, "sqlx.NamedExec", query, func(ctx context.Context) error {
		var err error
		result, err = db.conn(ctx).NamedExecContext(ctx, query, arg)
		return err
	})
	return result, err
}

// QueryxContext executes a query and returns sqlx.Rows.
func (db *DB) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	var rows *sqlx.Rows
	err := db.cfg.trace(ctx, "sqlx.Queryx", query, func(ctx context.Context) error {
		var err error
		rows, err = db.conn(ctx).QueryxContext(ctx, query, args...)
		return err
	})
	return rows, err
}

// QueryRowxContext executes a query and returns a single sqlx.Row.
// Errors are deferred until Scan.
func (db *DB) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	var row *sqlx.Row
	_ = db.cfg.trace(ctx, "sqlx.QueryRowx", query, func(ctx context.Context) error {
		row = db.conn(ctx).QueryRowxContext(ctx, query, args...)
		return nil
	})
	return row
}

// ExecContext executes a query without returning rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn(ctx).ExecContext(ctx, query, args...)
}

// QueryContext executes a query and returns rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn(ctx).QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query and returns a single row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn(ctx).QueryRowContext(ctx, query, args...)
}

// BeginTxx starts a transaction outside of any atomic scope.
func (db *DB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, cfg: db.cfg}, nil
}

// Beginx starts a transaction with default options.
func (db *DB) Beginx() (*Tx, error) {
	return db.BeginTxx(context.Background(), nil)
}

// MustBeginTx starts a transaction and panics on error.
func (db *DB) MustBeginTx(ctx context.Context, opts *sql.TxOptions) *Tx {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		panic(err)
	}
	return tx
}

// MustBegin starts a transaction and panics on error.
func (db *DB) MustBegin() *Tx {
	return db.MustBeginTx(context.Background(), nil)
}

// Unsafe returns a version of DB that silently ignores missing destination
// fields. Atomic scopes are shared with db.
func (db *DB) Unsafe() *DB {
	return &DB{
		DB:  db.DB.Unsafe(),
		cfg: db.cfg,
	}
}
