package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bankabc/voicegate/internal/llm"

var (
	invocationCounter  metric.Int64Counter
	metricsOnce        sync.Once
	metricsRegistered  bool
)

func initMetrics() {
	meter := otel.Meter(meterName)
	var err error
	invocationCounter, err = meter.Int64Counter(
		"voicegate.llm.invocations",
		metric.WithDescription("Completed reasoning-service invocations by model"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

// recordInvocation counts a successful completion. promoted marks calls that
// changed the active model, i.e. the fallback chain did real work.
func recordInvocation(ctx context.Context, model string, promoted bool) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	invocationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("promoted", promoted),
	))
}
