package sql

import (
	"context"
	"database/sql/driver"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sqltag-go/tagger"
)

const attrScope = attribute.Key("db.sqltag.scope")

// Compile-time interface check.
var _ driver.Tx = (*otelTx)(nil)

// otelTx wraps a driver.Tx. COMMIT and ROLLBACK spans are parented to the
// span active when the transaction began and carry the innermost scope
// active at that time.
type otelTx struct {
	tx  driver.Tx
	cfg *config

	// ctx is the context BeginTx was called with.
	ctx context.Context
}

// newOtelTx creates a new instrumented transaction.
func newOtelTx(ctx context.Context, tx driver.Tx, cfg *config) *otelTx {
	return &otelTx{
		tx:  tx,
		cfg: cfg,
		ctx: ctx,
	}
}

// Commit implements driver.Tx.
func (t *otelTx) Commit() error {
	return t.end("COMMIT", t.tx.Commit)
}

// Rollback implements driver.Tx.
func (t *otelTx) Rollback() error {
	return t.end("ROLLBACK", t.tx.Rollback)
}

func (t *otelTx) end(op string, fn func() error) error {
	start := time.Now()
	ctx, span := t.cfg.Tracer.Start(t.ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.cfg.scopeAttributes(t.ctx)...),
	)

	err := fn()

	t.cfg.Metrics.recordQueryDuration(ctx, time.Since(start), op, t.cfg.baseAttributes(), err)
	endSpan(span, err)

	return err
}

// scopeAttributes returns the base attributes plus the innermost scope
// active in ctx, rendered as "[T=<tag> ]<file>:<line>".
func (cfg *config) scopeAttributes(ctx context.Context) []attribute.KeyValue {
	attrs := cfg.baseAttributes()
	if info, ok := tagger.StackFromContext(ctx).Top(); ok {
		s := info.File + ":" + strconv.Itoa(info.Line)
		if info.Tag != "" {
			s = "T=" + info.Tag + " " + s
		}
		attrs = append(attrs, attrScope.String(s))
	}
	return attrs
}
