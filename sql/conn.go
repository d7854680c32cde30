package sql

import (
	"context"
	"database/sql/driver"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sqltag-go/tagger"
)

// Compile-time interface checks.
var (
	_ driver.Conn               = (*otelConn)(nil)
	_ driver.ConnPrepareContext = (*otelConn)(nil)
	_ driver.ConnBeginTx        = (*otelConn)(nil)
	_ driver.ExecerContext      = (*otelConn)(nil)
	_ driver.QueryerContext     = (*otelConn)(nil)
	_ driver.Pinger             = (*otelConn)(nil)
	_ driver.SessionResetter    = (*otelConn)(nil)
	_ driver.Validator          = (*otelConn)(nil)
)

// otelConn wraps a driver.Conn. Every statement it receives is tagged
// with its call site before reaching the underlying connection.
type otelConn struct {
	conn driver.Conn
	cfg  *config
}

// newOtelConn creates a new instrumented connection.
func newOtelConn(conn driver.Conn, cfg *config) *otelConn {
	return &otelConn{
		conn: conn,
		cfg:  cfg,
	}
}

// Prepare implements driver.Conn.
func (c *otelConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// Close implements driver.Conn.
func (c *otelConn) Close() error {
	return c.conn.Close()
}

// Begin implements driver.Conn.
// Deprecated: Use BeginTx instead. This exists for driver.Conn interface compatibility.
func (c *otelConn) Begin() (driver.Tx, error) {
	tx, err := c.conn.Begin() //nolint:staticcheck // Required for driver.Conn interface
	if err != nil {
		return nil, err
	}
	return newOtelTx(context.Background(), tx, c.cfg), nil
}

// PrepareContext implements driver.ConnPrepareContext. The statement is
// attributed to the line preparing it.
func (c *otelConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return tagger.Intercept(ctx, c.cfg.Tagger, query, nil, false,
		func(ctx context.Context, tagged string, _ []driver.NamedValue, _ bool) (driver.Stmt, error) {
			c.recordTagged(ctx)

			var stmt driver.Stmt
			var err error
			if preparer, ok := c.conn.(driver.ConnPrepareContext); ok {
				stmt, err = preparer.PrepareContext(ctx, tagged)
			} else {
				stmt, err = c.conn.Prepare(tagged)
			}
			if err != nil {
				return nil, err
			}

			a, _ := tagger.AnnotationFromContext(ctx)
			return newOtelStmt(stmt, c.cfg, query, a), nil
		})
}

// BeginTx implements driver.ConnBeginTx.
func (c *otelConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	start := time.Now()
	ctx, span := c.cfg.Tracer.Start(ctx, "BEGIN",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.cfg.scopeAttributes(ctx)...),
	)

	var tx driver.Tx
	var err error

	if beginner, ok := c.conn.(driver.ConnBeginTx); ok {
		tx, err = beginner.BeginTx(ctx, opts)
	} else {
		tx, err = c.conn.Begin() //nolint:staticcheck // Fallback for older drivers
	}

	c.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), "BEGIN", c.cfg.baseAttributes(), err)
	endSpan(span, err)

	if err != nil {
		return nil, err
	}

	return newOtelTx(ctx, tx, c.cfg), nil
}

// ExecContext implements driver.ExecerContext.
func (c *otelConn) ExecContext(
	ctx context.Context,
	query string,
	args []driver.NamedValue,
) (driver.Result, error) {
	execer, ok := c.conn.(driver.ExecerContext)
	if !ok {
		// database/sql falls back to PrepareContext, which tags the statement.
		return nil, driver.ErrSkip
	}

	return tagger.Intercept(ctx, c.cfg.Tagger, query, args, false,
		func(ctx context.Context, tagged string, args []driver.NamedValue, _ bool) (driver.Result, error) {
			c.recordTagged(ctx)

			start := time.Now()
			ctx, span := c.cfg.startQuerySpan(ctx, query)

			result, err := execer.ExecContext(ctx, tagged, args)

			c.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), extractOperation(query), c.cfg.baseAttributes(), err)
			endSpan(span, err)

			if err != nil {
				return nil, err
			}
			return result, nil
		})
}

// QueryContext implements driver.QueryerContext.
func (c *otelConn) QueryContext(
	ctx context.Context,
	query string,
	args []driver.NamedValue,
) (driver.Rows, error) {
	queryer, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}

	return tagger.Intercept(ctx, c.cfg.Tagger, query, args, false,
		func(ctx context.Context, tagged string, args []driver.NamedValue, _ bool) (driver.Rows, error) {
			c.recordTagged(ctx)

			start := time.Now()
			ctx, span := c.cfg.startQuerySpan(ctx, query)

			rows, err := queryer.QueryContext(ctx, tagged, args)

			c.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), extractOperation(query), c.cfg.baseAttributes(), err)
			endSpan(span, err)

			if err != nil {
				return nil, err
			}
			return rows, nil
		})
}

// Ping implements driver.Pinger.
func (c *otelConn) Ping(ctx context.Context) error {
	start := time.Now()
	ctx, span := c.cfg.Tracer.Start(ctx, "PING",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.cfg.baseAttributes()...),
	)

	var err error
	if pinger, ok := c.conn.(driver.Pinger); ok {
		err = pinger.Ping(ctx)
	}

	c.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), "PING", c.cfg.baseAttributes(), err)
	endSpan(span, err)

	return err
}

// ResetSession implements driver.SessionResetter.
func (c *otelConn) ResetSession(ctx context.Context) error {
	if resetter, ok := c.conn.(driver.SessionResetter); ok {
		return resetter.ResetSession(ctx)
	}
	return nil
}

// IsValid implements driver.Validator.
func (c *otelConn) IsValid() bool {
	if validator, ok := c.conn.(driver.Validator); ok {
		return validator.IsValid()
	}
	return true
}

func (c *otelConn) recordTagged(ctx context.Context) {
	_, tagged := tagger.AnnotationFromContext(ctx)
	c.cfg.Metrics.recordTagged(ctx, tagged, c.cfg.baseAttributes())
}
