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
	_ driver.Stmt             = (*otelStmt)(nil)
	_ driver.StmtExecContext  = (*otelStmt)(nil)
	_ driver.StmtQueryContext = (*otelStmt)(nil)
)

// otelStmt wraps a prepared driver.Stmt. The statement text was tagged when
// it was prepared; executions reuse that annotation.
type otelStmt struct {
	stmt driver.Stmt
	cfg  *config

	// query is the statement as written by the caller, without the comment.
	query string

	// annotation is the call site recorded at prepare time. Zero when the
	// statement was not tagged.
	annotation tagger.Annotation
}

// newOtelStmt creates a new instrumented statement.
func newOtelStmt(stmt driver.Stmt, cfg *config, query string, a tagger.Annotation) *otelStmt {
	return &otelStmt{
		stmt:       stmt,
		cfg:        cfg,
		query:      query,
		annotation: a,
	}
}

// Close implements driver.Stmt.
func (s *otelStmt) Close() error {
	return s.stmt.Close()
}

// NumInput implements driver.Stmt.
func (s *otelStmt) NumInput() int {
	return s.stmt.NumInput()
}

// Exec implements driver.Stmt.
// Deprecated: Use ExecContext instead. This exists for driver.Stmt interface compatibility.
func (s *otelStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.stmt.Exec(args) //nolint:staticcheck // Required for driver.Stmt interface
}

// Query implements driver.Stmt.
// Deprecated: Use QueryContext instead. This exists for driver.Stmt interface compatibility.
func (s *otelStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.stmt.Query(args) //nolint:staticcheck // Required for driver.Stmt interface
}

// ExecContext implements driver.StmtExecContext.
func (s *otelStmt) ExecContext(
	ctx context.Context,
	args []driver.NamedValue,
) (driver.Result, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx)

	var result driver.Result
	var err error

	if execer, ok := s.stmt.(driver.StmtExecContext); ok {
		result, err = execer.ExecContext(ctx, args)
	} else {
		values := namedValueToValue(args)
		result, err = s.stmt.Exec(values) //nolint:staticcheck // Fallback for older drivers
	}

	s.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), extractOperation(s.query), s.cfg.baseAttributes(), err)
	endSpan(span, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// QueryContext implements driver.StmtQueryContext.
func (s *otelStmt) QueryContext(
	ctx context.Context,
	args []driver.NamedValue,
) (driver.Rows, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx)

	var rows driver.Rows
	var err error

	if queryer, ok := s.stmt.(driver.StmtQueryContext); ok {
		rows, err = queryer.QueryContext(ctx, args)
	} else {
		values := namedValueToValue(args)
		rows, err = s.stmt.Query(values) //nolint:staticcheck // Fallback for older drivers
	}

	s.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), extractOperation(s.query), s.cfg.baseAttributes(), err)
	endSpan(span, err)

	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *otelStmt) startSpan(ctx context.Context) (context.Context, trace.Span) {
	attrs := s.cfg.queryAttributes(s.query)
	if s.annotation.Comment != "" {
		attrs = append(attrs, annotationAttributes(s.annotation)...)
	}
	return s.cfg.Tracer.Start(ctx, spanName(s.query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// namedValueToValue converts NamedValue slice to Value slice.
func namedValueToValue(named []driver.NamedValue) []driver.Value {
	values := make([]driver.Value, len(named))
	for i, nv := range named {
		values[i] = nv.Value
	}
	return values
}
