package sandbox

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("evogate/internal/sandbox")

var (
	runsTotal   metric.Int64Counter
	runDuration metric.Float64Histogram
)

func init() {
	var err error
	runsTotal, err = meter.Int64Counter("sandbox.runs.total",
		metric.WithDescription("Sandboxed runs, by fault kind"))
	if err != nil {
		runsTotal, _ = meter.Int64Counter("sandbox.runs.total.fallback")
	}

	runDuration, err = meter.Float64Histogram("sandbox.run.duration",
		metric.WithDescription("Measured execution time of successful runs"),
		metric.WithUnit("s"))
	if err != nil {
		runDuration, _ = meter.Float64Histogram("sandbox.run.duration.fallback")
	}
}
