package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "evidenced"

// Metrics holds all acquisition-layer metric instruments.
type Metrics struct {
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	ProviderCalls    metric.Int64Counter
	ProviderFailures metric.Int64Counter
	EvaluatorCalls   metric.Int64Counter
	BreakerOpens     metric.Int64Counter
	BatchDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.CacheHits, err = meter.Int64Counter("evidenced.cache.hits",
		metric.WithDescription("Number of cache hits"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("evidenced.cache.misses",
		metric.WithDescription("Number of cache misses"))
	if err != nil {
		return nil, err
	}

	m.ProviderCalls, err = meter.Int64Counter("evidenced.provider.calls",
		metric.WithDescription("Number of search provider calls"))
	if err != nil {
		return nil, err
	}

	m.ProviderFailures, err = meter.Int64Counter("evidenced.provider.failures",
		metric.WithDescription("Number of failed search provider calls"))
	if err != nil {
		return nil, err
	}

	m.EvaluatorCalls, err = meter.Int64Counter("evidenced.evaluator.calls",
		metric.WithDescription("Number of reliability evaluator calls"))
	if err != nil {
		return nil, err
	}

	m.BreakerOpens, err = meter.Int64Counter("evidenced.breaker.opens",
		metric.WithDescription("Number of circuit breaker open transitions"))
	if err != nil {
		return nil, err
	}

	m.BatchDuration, err = meter.Float64Histogram("evidenced.batch.duration_seconds",
		metric.WithDescription("Prefetch batch duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
