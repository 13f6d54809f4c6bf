// Package observer provides an OTEL-metrics implementation of the
// fiddle.Observer analytics boundary.
//
// Events become counter increments on a single instrument with the event
// name as an attribute, exported over OTLP HTTP. Configuration comes from
// standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Recording
// is fire-and-forget: nothing here ever returns an error to a caller.
package observer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	fiddle "github.com/stefb965/witty-fiddle"
)

const scopeName = "github.com/stefb965/witty-fiddle/observer"

// Metrics implements fiddle.Observer on OTEL metric counters.
type Metrics struct {
	events    metric.Int64Counter
	pageViews metric.Int64Counter
}

var _ fiddle.Observer = (*Metrics)(nil)

// Init sets up an OTEL meter provider with an OTLP HTTP exporter and
// returns a Metrics observer plus a shutdown function that must be called
// on application exit.
func Init(ctx context.Context) (*Metrics, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("witty-fiddle")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	exp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(scopeName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	return m, mp.Shutdown, nil
}

// NewWithMeter builds a Metrics observer on an existing meter. Tests use
// this with an in-process manual reader.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	events, err := meter.Int64Counter("fiddle.events",
		metric.WithDescription("User action events"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}
	pageViews, err := meter.Int64Counter("fiddle.page_views",
		metric.WithDescription("Page view count"),
		metric.WithUnit("{view}"))
	if err != nil {
		return nil, err
	}
	return &Metrics{events: events, pageViews: pageViews}, nil
}

// Event increments the event counter under the event name, with props
// folded into attributes.
func (m *Metrics) Event(ctx context.Context, name string, value int64, props map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(props)+1)
	attrs = append(attrs, attribute.String("event.name", name))
	for k, v := range props {
		attrs = append(attrs, attribute.String(k, v))
	}
	m.events.Add(ctx, value, metric.WithAttributes(attrs...))
}

// PageView increments the page view counter.
func (m *Metrics) PageView(ctx context.Context) {
	m.pageViews.Add(ctx, 1)
}
