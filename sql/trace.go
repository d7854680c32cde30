package sql

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sqltag-go/tagger"
)

// Regex patterns for query sanitization.
var (
	// leadingCommentRegex matches block comments and whitespace before the first keyword.
	leadingCommentRegex = regexp.MustCompile(`^(?:\s*/\*.*?\*/)*\s*`)

	// stringLiteralRegex matches single-quoted strings, handling escaped quotes.
	stringLiteralRegex = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)

	// numericLiteralRegex matches integers and floats.
	numericLiteralRegex = regexp.MustCompile(`\b\d+\.?\d*\b`)

	// hexLiteralRegex matches literals such as 0xDEADBEEF.
	hexLiteralRegex = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)
)

// Span attribute keys for the call site of a statement.
const (
	attrCodeFilepath = attribute.Key("code.filepath")
	attrCodeLineno   = attribute.Key("code.lineno")
	attrScopeDepth   = attribute.Key("db.sqltag.scope_depth")
)

// stripLeadingComments drops block comments preceding the statement, so
// statements that already carry a call-site comment keep their verb.
//
//	stripLeadingComments("/* a.go:1 */ SELECT 1") // "SELECT 1"
func stripLeadingComments(query string) string {
	loc := leadingCommentRegex.FindStringIndex(query)
	if loc == nil {
		return query
	}
	return query[loc[1]:]
}

// spanName returns the SQL verb of query, or "SQL" when there is none.
// Span names must not be empty.
//
//	spanName("SELECT * FROM users")       // "SELECT"
//	spanName("/* a.go:1 */ DELETE FROM t") // "DELETE"
//	spanName("")                          // "SQL"
func spanName(query string) string {
	op := extractOperation(query)
	if op != "" {
		return op
	}
	return "SQL"
}

// extractOperation returns the upper-cased first keyword of query, or ""
// for an empty statement.
func extractOperation(query string) string {
	query = strings.TrimSpace(stripLeadingComments(query))
	if query == "" {
		return ""
	}

	spaceIdx := strings.IndexAny(query, " \t\n\r")
	if spaceIdx == -1 {
		return strings.ToUpper(query)
	}

	return strings.ToUpper(query[:spaceIdx])
}

// DefaultQuerySanitizer replaces string, numeric and hex literals with "?"
// placeholders. Leading comments are kept verbatim, so the line numbers of
// a call-site comment survive.
//
//	DefaultQuerySanitizer("/* a.go:12 */ SELECT * FROM users WHERE id = 123")
//	// "/* a.go:12 */ SELECT * FROM users WHERE id = ?"
//
//	DefaultQuerySanitizer("SELECT * FROM users WHERE name = 'john'")
//	// "SELECT * FROM users WHERE name = '?'"
func DefaultQuerySanitizer(query string) string {
	body := stripLeadingComments(query)
	prefix := query[:len(query)-len(body)]

	body = stringLiteralRegex.ReplaceAllString(body, "'?'")
	body = hexLiteralRegex.ReplaceAllString(body, "?")
	body = numericLiteralRegex.ReplaceAllString(body, "?")

	return prefix + body
}

// baseAttributes returns the attributes shared by all spans and metrics.
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

// queryAttributes returns attributes for a statement span. query is the
// statement as written by the caller, without the call-site comment.
func (cfg *config) queryAttributes(query string) []attribute.KeyValue {
	attrs := cfg.baseAttributes()

	if !cfg.DisableQuery && query != "" {
		sanitized := query
		if cfg.QuerySanitizer != nil {
			sanitized = cfg.QuerySanitizer(query)
		}
		attrs = append(attrs, attribute.String("db.statement", sanitized))
	}

	if op := extractOperation(query); op != "" {
		attrs = append(attrs, attribute.String("db.operation", op))
	}

	return attrs
}

// annotationAttributes returns the call-site attributes of a.
func annotationAttributes(a tagger.Annotation) []attribute.KeyValue {
	return []attribute.KeyValue{
		attrCodeFilepath.String(a.Origin.File),
		attrCodeLineno.Int(a.Origin.Line),
		attrScopeDepth.Int(len(a.Scopes)),
	}
}

// startQuerySpan starts a client span for query. The call-site attributes
// are added when ctx carries an annotation.
func (cfg *config) startQuerySpan(ctx context.Context, query string) (context.Context, trace.Span) {
	attrs := cfg.queryAttributes(query)
	if a, ok := tagger.AnnotationFromContext(ctx); ok {
		attrs = append(attrs, annotationAttributes(a)...)
	}
	return cfg.Tracer.Start(ctx, spanName(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
