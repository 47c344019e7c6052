package metrics

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	Operations        metric.Int64Counter
	OperationDuration metric.Float64Histogram
	Liquidations      metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
	PriceUpdates      metric.Int64Counter
}

// Setup registers the exporter with the default Prometheus registry and sets
// the global meter provider.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	m, provider, err := build(serviceName, prom.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}
	otel.SetMeterProvider(provider)
	return m, promhttp.Handler(), nil
}

// SetupWithRegistry keeps everything on reg, leaving globals untouched.
func SetupWithRegistry(serviceName string, reg *prom.Registry) (*Metrics, http.Handler, error) {
	m, _, err := build(serviceName, reg)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func build(serviceName string, reg prom.Registerer) (*Metrics, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"ledger_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"ledger_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Operations, err = meter.Int64Counter(
		"ledger_operations_total",
		metric.WithDescription("Ledger operations by name and result"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"ledger_operation_duration_seconds",
		metric.WithDescription("Ledger operation latency in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Liquidations, err = meter.Int64Counter(
		"ledger_liquidations_total",
		metric.WithDescription("Successful liquidations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"ledger_ws_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PriceUpdates, err = meter.Int64Counter(
		"ledger_price_updates_total",
		metric.WithDescription("Price observations accepted by the oracle"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, provider, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordOperation implements ledger.Metrics.
func (m *Metrics) RecordOperation(ctx context.Context, op string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
	m.OperationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("op", op)))
	if op == "liquidate" && err == nil {
		m.Liquidations.Add(ctx, 1)
	}
}

func (m *Metrics) RecordPriceUpdate(ctx context.Context, asset string) {
	m.PriceUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("asset", asset)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}
