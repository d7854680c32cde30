package sqlx

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sqltagsql "github.com/kroma-labs/sqltag-go/sql"
)

// DefaultQuerySanitizer replaces literals with "?" placeholders.
// See the sql package for details.
func DefaultQuerySanitizer(query string) string {
	return sqltagsql.DefaultQuerySanitizer(query)
}

// extractOperation returns the upper-cased first keyword of query, or ""
// for an empty statement.
func extractOperation(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	spaceIdx := strings.IndexAny(query, " \t\n\r")
	if spaceIdx == -1 {
		return strings.ToUpper(query)
	}

	return strings.ToUpper(query[:spaceIdx])
}

// sqlxSpanName generates a span name for sqlx-specific operations.
//
//	sqlxSpanName("sqlx.Get", "SELECT * FROM users") // "sqlx.Get: SELECT"
func sqlxSpanName(method, query string) string {
	op := extractOperation(query)
	if op == "" {
		return method
	}
	return method + ": " + op
}

// baseAttributes returns the base attributes for all spans and metrics.
func (cfg *config) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if cfg.DBSystem != "" {
		attrs = append(attrs, attribute.String("db.system", cfg.DBSystem))
	}
	if cfg.DBName != "" {
		attrs = append(attrs, attribute.String("db.name", cfg.DBName))
	}
	if cfg.InstanceName != "" {
		attrs = append(attrs, attribute.String("db.instance", cfg.InstanceName))
	}
	return attrs
}

// trace runs fn under a span named after method. Statement attributes are
// left to the driver wrapper, which sees the statement as sent.
func (cfg *config) trace(ctx context.Context, method, query string, fn func(ctx context.Context) error) error {
	attrs := cfg.baseAttributes()
	if op := extractOperation(query); op != "" {
		attrs = append(attrs, attribute.String("db.operation", op))
	}

	ctx, span := cfg.Tracer.Start(ctx, sqlxSpanName(method, query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
