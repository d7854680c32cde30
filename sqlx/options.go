package sqlx

import (
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	sqltagsql "github.com/kroma-labs/sqltag-go/sql"
	"github.com/kroma-labs/sqltag-go/tagger"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/sqltag-go/sqlx"
)

// config holds the configuration of a DB.
type config struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *metrics

	// Tagger records atomic scopes and, through the driver wrapper,
	// annotates statements. Nil disables both.
	Tagger *tagger.Tagger

	DBSystem     string
	DBName       string
	InstanceName string

	QuerySanitizer func(query string) string
	DisableQuery   bool

	// TxOptions are used when an atomic scope begins a transaction.
	TxOptions *sql.TxOptions
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
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// driverOptions translates cfg into options of the driver wrapper used by
// Open and Connect.
func (cfg *config) driverOptions() []sqltagsql.Option {
	opts := []sqltagsql.Option{
		sqltagsql.WithTracerProvider(cfg.TracerProvider),
		sqltagsql.WithMeterProvider(cfg.MeterProvider),
		sqltagsql.WithTagger(cfg.Tagger),
		sqltagsql.WithDBSystem(cfg.DBSystem),
		sqltagsql.WithDBName(cfg.DBName),
		sqltagsql.WithInstanceName(cfg.InstanceName),
	}
	if cfg.QuerySanitizer != nil {
		opts = append(opts, sqltagsql.WithQuerySanitizer(cfg.QuerySanitizer))
	}
	if cfg.DisableQuery {
		opts = append(opts, sqltagsql.WithDisableQuery())
	}
	return opts
}

// Option configures a DB.
type Option func(*config)

// WithTagger enables call-site tagging and atomic scopes. The wrappers of
// this package are registered as data-access types on a copy of t.
//
// Example:
//
//	tg, _ := tagger.New(tagger.WithCodeRoot("/srv/app"))
//	db, _ := sqltagsqlx.Open("postgres", dsn, sqltagsqlx.WithTagger(tg))
func WithTagger(t *tagger.Tagger) Option {
	return func(cfg *config) {
		cfg.Tagger = t.With(tagger.WithDataAccessTypes(DB{}, Tx{}, config{}, atomicBlock{}))
	}
}

// WithTracerProvider sets a custom tracer provider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		cfg.MeterProvider = mp
	}
}

// WithDBSystem sets the "db.system" attribute, e.g. "postgresql".
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

// WithInstanceName sets the "db.instance" attribute. Atomic scopes entered
// with tagger.Using(alias) must name this instance.
//
// Example:
//
//	primary, _ := sqltagsqlx.Open("postgres", primaryDSN,
//	    sqltagsqlx.WithInstanceName("primary"),
//	)
//	err := primary.Atomic(tagger.Using("primary")).Do(ctx, transfer)
func WithInstanceName(name string) Option {
	return func(cfg *config) {
		cfg.InstanceName = name
	}
}

// WithQuerySanitizer sets the function applied to statements before they
// are recorded on spans.
//
//	db, _ := sqltagsqlx.Open("postgres", dsn,
//	    sqltagsqlx.WithQuerySanitizer(sqltagsqlx.DefaultQuerySanitizer),
//	)
func WithQuerySanitizer(fn func(string) string) Option {
	return func(cfg *config) {
		cfg.QuerySanitizer = fn
	}
}

// WithDisableQuery omits db.statement from spans.
func WithDisableQuery() Option {
	return func(cfg *config) {
		cfg.DisableQuery = true
	}
}

// WithTxOptions sets the isolation level and read-only flag of transactions
// begun by atomic scopes.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(cfg *config) {
		cfg.TxOptions = opts
	}
}
