package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricProjectionsTotal    = "fundingscope_projections_total"
	MetricProjectionDuration  = "fundingscope_projection_duration_ms"
	MetricComparisonsTotal    = "fundingscope_comparisons_total"
	MetricRecommendationsOut  = "fundingscope_recommendations_emitted_total"
	MetricFundingCacheHits    = "fundingscope_funding_cache_hits"
	MetricFundingCacheMisses  = "fundingscope_funding_cache_misses"
	MetricFeedFetchesTotal    = "fundingscope_feed_fetches_total"
	MetricFeedFailuresTotal   = "fundingscope_feed_failures_total"
	MetricFundingDefaultsUsed = "fundingscope_feed_funding_defaults_total"
)

// MetricsHolder holds the initialized domain instruments.
type MetricsHolder struct {
	ProjectionsTotal    metric.Int64Counter
	ProjectionDuration  metric.Float64Histogram
	ComparisonsTotal    metric.Int64Counter
	RecommendationsOut  metric.Int64Counter
	FundingCacheHits    metric.Int64ObservableGauge
	FundingCacheMisses  metric.Int64ObservableGauge
	FeedFetchesTotal    metric.Int64Counter
	FeedFailuresTotal   metric.Int64Counter
	FundingDefaultsUsed metric.Int64Counter

	mu          sync.RWMutex
	cacheHits   int64
	cacheMisses int64
	initialized bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.ProjectionsTotal, err = meter.Int64Counter(MetricProjectionsTotal,
		metric.WithDescription("Projection pipeline runs")); err != nil {
		return err
	}
	if m.ProjectionDuration, err = meter.Float64Histogram(MetricProjectionDuration,
		metric.WithDescription("Projection pipeline duration in milliseconds")); err != nil {
		return err
	}
	if m.ComparisonsTotal, err = meter.Int64Counter(MetricComparisonsTotal,
		metric.WithDescription("Spot-vs-leverage comparisons computed")); err != nil {
		return err
	}
	if m.RecommendationsOut, err = meter.Int64Counter(MetricRecommendationsOut,
		metric.WithDescription("Recommendations emitted")); err != nil {
		return err
	}
	if m.FeedFetchesTotal, err = meter.Int64Counter(MetricFeedFetchesTotal,
		metric.WithDescription("Market data fetches attempted")); err != nil {
		return err
	}
	if m.FeedFailuresTotal, err = meter.Int64Counter(MetricFeedFailuresTotal,
		metric.WithDescription("Market data fetches that failed")); err != nil {
		return err
	}
	if m.FundingDefaultsUsed, err = meter.Int64Counter(MetricFundingDefaultsUsed,
		metric.WithDescription("Times the funding-rate fetch fell back to the 0.01 default")); err != nil {
		return err
	}

	if m.FundingCacheHits, err = meter.Int64ObservableGauge(MetricFundingCacheHits,
		metric.WithDescription("Funding engine memo cache hits"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			o.Observe(m.cacheHits)
			return nil
		})); err != nil {
		return err
	}
	if m.FundingCacheMisses, err = meter.Int64ObservableGauge(MetricFundingCacheMisses,
		metric.WithDescription("Funding engine memo cache misses"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			o.Observe(m.cacheMisses)
			return nil
		})); err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// RecordProjection counts one projection run for a scenario.
func (m *MetricsHolder) RecordProjection(ctx context.Context, scenarioName string, durationMs float64) {
	m.mu.RLock()
	ready := m.initialized
	m.mu.RUnlock()
	if !ready {
		return
	}
	attrs := metric.WithAttributes(attribute.String("scenario", scenarioName))
	m.ProjectionsTotal.Add(ctx, 1, attrs)
	m.ProjectionDuration.Record(ctx, durationMs, attrs)
}

// RecordComparison counts one comparison run.
func (m *MetricsHolder) RecordComparison(ctx context.Context, scenarioName string) {
	m.mu.RLock()
	ready := m.initialized
	m.mu.RUnlock()
	if !ready {
		return
	}
	m.ComparisonsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scenario", scenarioName)))
}

// RecordRecommendations counts emitted recommendations.
func (m *MetricsHolder) RecordRecommendations(ctx context.Context, count int) {
	m.mu.RLock()
	ready := m.initialized
	m.mu.RUnlock()
	if !ready {
		return
	}
	m.RecommendationsOut.Add(ctx, int64(count))
}

// RecordFeedFetch counts one feed fetch, failed or not.
func (m *MetricsHolder) RecordFeedFetch(ctx context.Context, endpoint string, failed bool) {
	m.mu.RLock()
	ready := m.initialized
	m.mu.RUnlock()
	if !ready {
		return
	}
	attrs := metric.WithAttributes(attribute.String("endpoint", endpoint))
	m.FeedFetchesTotal.Add(ctx, 1, attrs)
	if failed {
		m.FeedFailuresTotal.Add(ctx, 1, attrs)
	}
}

// RecordFundingDefault counts one fall-back to the default funding rate.
func (m *MetricsHolder) RecordFundingDefault(ctx context.Context) {
	m.mu.RLock()
	ready := m.initialized
	m.mu.RUnlock()
	if !ready {
		return
	}
	m.FundingDefaultsUsed.Add(ctx, 1)
}

// SetCacheStats updates the observable cache gauges.
func (m *MetricsHolder) SetCacheStats(hits, misses uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits = int64(hits)
	m.cacheMisses = int64(misses)
}
