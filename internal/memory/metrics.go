package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("evogate/internal/memory")

var (
	writesTotal    metric.Int64Counter
	readsTotal     metric.Int64Counter
	consolidations metric.Int64Counter
)

func init() {
	var err error
	writesTotal, err = meter.Int64Counter("memory.writes.total",
		metric.WithDescription("Entries written, by tier"))
	if err != nil {
		writesTotal, _ = meter.Int64Counter("memory.writes.total.fallback")
	}

	readsTotal, err = meter.Int64Counter("memory.recall.matches",
		metric.WithDescription("Entries returned by recall"))
	if err != nil {
		readsTotal, _ = meter.Int64Counter("memory.recall.matches.fallback")
	}

	consolidations, err = meter.Int64Counter("memory.consolidation.promoted",
		metric.WithDescription("Short-term entries promoted to long-term"))
	if err != nil {
		consolidations, _ = meter.Int64Counter("memory.consolidation.promoted.fallback")
	}
}
