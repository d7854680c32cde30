package sqlx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Transaction outcomes.
const (
	outcomeCommit   = "commit"
	outcomeRollback = "rollback"
)

// metrics holds the metric instruments for atomic scopes.
type metrics struct {
	// Time from BEGIN to COMMIT or ROLLBACK of outermost atomic scopes.
	txDuration metric.Float64Histogram
}

// newMetrics creates the metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.txDuration, err = meter.Float64Histogram(
		"db.client.transaction.duration",
		metric.WithDescription("Duration of transactions opened by atomic scopes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordTransaction records one finished transaction.
func (m *metrics) recordTransaction(
	ctx context.Context,
	duration time.Duration,
	outcome string,
	attrs []attribute.KeyValue,
	err error,
) {
	if m == nil || m.txDuration == nil {
		return
	}

	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs, attrs...)
	allAttrs = append(allAttrs, attribute.String("outcome", outcome))

	status := "ok"
	if err != nil {
		status = "error"
	}
	allAttrs = append(allAttrs, attribute.String("status", status))

	m.txDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(allAttrs...))
}
