package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const unmatchedRoute = "unmatched"

// httpMetrics are the server-side request instruments. Event streams get
// their own in-flight gauge and stay out of the latency histogram, since
// their duration is the lifetime of a dashboard tab.
type httpMetrics struct {
	requests  *telemetry.Counter
	latency   *telemetry.Histogram
	sizes     *telemetry.Histogram
	inFlight  metric.Int64UpDownCounter
	streaming metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	var m httpMetrics
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.requests, err = telemetry.NewCounter(meter, "http_server_request_total", "Total number of HTTP requests", "{request}")
	collect(err)
	m.latency, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency in seconds, event streams excluded",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	})
	collect(err)
	m.sizes, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Description: "HTTP response body size in bytes",
		Unit:        "By",
		Boundaries:  []float64{256, 1 << 10, 16 << 10, 128 << 10, 1 << 20, 8 << 20},
	})
	collect(err)
	m.inFlight, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("HTTP requests in flight"), metric.WithUnit("{request}"))
	collect(err)
	m.streaming, err = meter.Int64UpDownCounter("http_server_active_streams",
		metric.WithDescription("Open dashboard event streams"), metric.WithUnit("{stream}"))
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &m, nil
}

// HTTPMetricsWithMeter records request counts, latencies and response sizes
// on meter. It is a pass-through when disabled or when the instruments
// cannot be created.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	var m *httpMetrics
	if enabled && meter != nil {
		m, _ = newHTTPMetrics(meter)
	}
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return m.handle
}

func (m *httpMetrics) handle(c *gin.Context) {
	ctx := c.Request.Context()
	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	stream := strings.HasSuffix(route, "/stream")

	gauge := m.inFlight
	if stream {
		gauge = m.streaming
	}
	start := time.Now()
	gauge.Add(ctx, 1)
	defer func() {
		gauge.Add(ctx, -1)

		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		m.requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))...)
		if !stream {
			m.latency.RecordDuration(ctx, time.Since(start), attrs...)
		}
		if size := c.Writer.Size(); size > 0 {
			m.sizes.Record(ctx, float64(size), attrs...)
		}
	}()
	c.Next()
}
