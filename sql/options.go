package sql

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sqltag-go/tagger"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/sqltag-go/sql"
)

// config holds the configuration of a wrapped driver.
type config struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *metrics

	// Tagger annotates statements with their call site. Nil disables tagging.
	Tagger *tagger.Tagger

	// DBSystem identifies the DBMS product, e.g. "postgresql".
	DBSystem string

	// DBName is the name of the database being accessed.
	DBName string

	// InstanceName distinguishes connections to the same database,
	// such as "primary" and "replica".
	InstanceName string

	// QuerySanitizer rewrites statements before they are recorded on spans.
	QuerySanitizer func(query string) string

	// DisableQuery omits db.statement from spans.
	DisableQuery bool
}

// newConfig creates a new config with defaults and applies options.
func newConfig(opts ...Option) *config {
	cfg := &config{
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Instruments are optional; recording methods tolerate nil.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// Option configures the wrapped driver.
type Option func(*config)

// WithTagger enables call-site tagging of every statement sent through the
// wrapped driver. The connection, statement and transaction wrappers of this
// package are registered as data-access types on a copy of t, so statements
// are attributed to the application code that issued them.
//
// Example:
//
//	tg, _ := tagger.New(tagger.WithCodeRoot("/srv/app"))
//	db, _ := sqltagsql.Open("postgres", dsn, sqltagsql.WithTagger(tg))
//	// SELECT 1 is sent as "/* cmd/server/main.go:42 */ SELECT 1"
//	db.QueryContext(ctx, "SELECT 1")
func WithTagger(t *tagger.Tagger) Option {
	return func(cfg *config) {
		cfg.Tagger = t.With(tagger.WithDataAccessTypes(
			otelDriver{},
			otelConn{},
			otelStmt{},
			otelTx{},
		))
	}
}

// WithTracerProvider sets a custom tracer provider.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(...)
//	db, _ := sqltagsql.Open("postgres", dsn,
//	    sqltagsql.WithTracerProvider(tp),
//	)
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		cfg.MeterProvider = mp
	}
}

// WithDBSystem sets the "db.system" attribute, e.g. "postgresql" or "mysql".
func WithDBSystem(system string) Option {
	return func(cfg *config) {
		cfg.DBSystem = system
	}
}

// WithDBName sets the "db.name" attribute.
func WithDBName(name string) Option {
	return func(cfg *config) {
		cfg.DBName = name
	}
}

// WithInstanceName sets the "db.instance" attribute. Use it to tell apart
// several connections to the same database:
//
//	writer, _ := sqltagsql.Open("postgres", primaryDSN, sqltagsql.WithInstanceName("primary"))
//	reader, _ := sqltagsql.Open("postgres", replicaDSN, sqltagsql.WithInstanceName("replica"))
//
// The sqlx package also matches it against the alias of atomic scopes.
func WithInstanceName(name string) Option {
	return func(cfg *config) {
		cfg.InstanceName = name
	}
}

// WithQuerySanitizer sets the function applied to statements before they
// are recorded as db.statement. See DefaultQuerySanitizer.
func WithQuerySanitizer(fn func(string) string) Option {
	return func(cfg *config) {
		cfg.QuerySanitizer = fn
	}
}

// WithDisableQuery omits db.statement from spans. db.operation and the
// call-site attributes are still recorded.
func WithDisableQuery() Option {
	return func(cfg *config) {
		cfg.DisableQuery = true
	}
}
