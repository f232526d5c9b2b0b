package compare

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("evogate/internal/compare")

var (
	decisionsTotal     metric.Int64Counter
	improvementSummary metric.Float64Histogram
)

func init() {
	var err error
	decisionsTotal, err = meter.Int64Counter("compare.decisions.total",
		metric.WithDescription("Comparison decisions, by verdict"))
	if err != nil {
		decisionsTotal, _ = meter.Int64Counter("compare.decisions.total.fallback")
	}

	improvementSummary, err = meter.Float64Histogram("compare.total_improvement",
		metric.WithDescription("Weighted total improvement of evaluated candidates"))
	if err != nil {
		improvementSummary, _ = meter.Float64Histogram("compare.total_improvement.fallback")
	}
}
