package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics records live cache and derived view activity. It satisfies
// the dashboard session metrics interface.
type CacheMetrics struct {
	events          *Counter
	replaces        *Counter
	cacheSize       *Gauge
	refreshes       *Counter
	refreshDuration *Histogram
	stageDuration   *Histogram
}

// NewCacheMetrics creates the metric set on meter
func NewCacheMetrics(meter metric.Meter) (*CacheMetrics, error) {
	if meter == nil {
		return nil, errors.New("NewCacheMetrics: meter cannot be nil")
	}
	m := &CacheMetrics{}
	var err error
	if m.events, err = NewCounter(meter, "orderboard.cache.events", "Change events by operation and outcome", "{event}"); err != nil {
		return nil, err
	}
	if m.replaces, err = NewCounter(meter, "orderboard.cache.replacements", "Full cache replacements", "{replacement}"); err != nil {
		return nil, err
	}
	if m.cacheSize, err = NewGauge(meter, "orderboard.cache.size", "Records held after the last replacement", "{record}"); err != nil {
		return nil, err
	}
	if m.refreshes, err = NewCounter(meter, "orderboard.fetch.total", "Full order fetches by outcome", "{fetch}"); err != nil {
		return nil, err
	}
	if m.refreshDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "orderboard.fetch.duration",
		Description: "Full order fetch latency",
		Unit:        "s",
		Boundaries:  FetchDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.stageDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "orderboard.pipeline.stage.duration",
		Description: "Derived view stage latency",
		Unit:        "s",
		Boundaries:  StageDurationBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordEvent counts one applied or dropped change event
func (m *CacheMetrics) RecordEvent(ctx context.Context, operation, outcome string) {
	m.events.Inc(ctx, AttrOperation.String(operation), AttrOutcome.String(outcome))
}

// RecordReplace counts a full replacement and records the resulting size
func (m *CacheMetrics) RecordReplace(ctx context.Context, size int) {
	m.replaces.Inc(ctx)
	m.cacheSize.Record(ctx, int64(size))
}

// RecordRefresh counts a full fetch by outcome and records its latency
func (m *CacheMetrics) RecordRefresh(ctx context.Context, outcome string, elapsed time.Duration) {
	m.refreshes.Inc(ctx, AttrOutcome.String(outcome))
	m.refreshDuration.RecordDuration(ctx, elapsed, AttrOutcome.String(outcome))
}

// RecordStage records the latency of a scope, filter, aggregate or display stage
func (m *CacheMetrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration) {
	m.stageDuration.RecordDuration(ctx, elapsed, AttrStage.String(stage))
}
