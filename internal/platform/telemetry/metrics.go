// Package telemetry sets up OpenTelemetry metrics exported in Prometheus
// format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const Namespace = "riverly"

// ShutdownFunc flushes and stops the meter provider.
type ShutdownFunc func(context.Context) error

// Metrics holds the instruments recorded by the API and the orchestration core.
type Metrics struct {
	Requests        metric.Int64Counter
	ErrorCount      metric.Int64Counter
	RequestDuration metric.Float64Histogram

	// DeploymentsTriggered counts trigger calls by outcome.
	DeploymentsTriggered metric.Int64Counter
	// WebhookEvents counts reconciled build events by outcome.
	WebhookEvents metric.Int64Counter

	prometheusHandler http.Handler
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter(
		Namespace+".http.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}

	errorCount, err := meter.Int64Counter(
		Namespace+".http.errors",
		metric.WithDescription("Total number of HTTP responses with status >= 400"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		Namespace+".http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	triggered, err := meter.Int64Counter(
		Namespace+".deployments.triggered",
		metric.WithDescription("Deployment trigger calls by outcome"),
		metric.WithUnit("{deployment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deployments counter: %w", err)
	}

	webhookEvents, err := meter.Int64Counter(
		Namespace+".webhook.events",
		metric.WithDescription("Build status events received by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook counter: %w", err)
	}

	return &Metrics{
		Requests:             requests,
		ErrorCount:           errorCount,
		RequestDuration:      requestDuration,
		DeploymentsTriggered: triggered,
		WebhookEvents:        webhookEvents,
	}, nil
}

// RecordDeployment counts one trigger call. Safe on a nil receiver.
func (m *Metrics) RecordDeployment(ctx context.Context, outcome string) {
	if m == nil || m.DeploymentsTriggered == nil {
		return
	}
	m.DeploymentsTriggered.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordWebhookEvent counts one reconciled event. Safe on a nil receiver.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, outcome string) {
	if m == nil || m.WebhookEvents == nil {
		return
	}
	m.WebhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// PrometheusHandler serves the registry the exporter writes to.
func (m *Metrics) PrometheusHandler() http.Handler {
	return m.prometheusHandler
}

// InitMetrics installs a meter provider backed by a private Prometheus
// registry and starts runtime instrumentation.
func InitMetrics(version string) (ShutdownFunc, *Metrics, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", Namespace),
		attribute.String("service.version", version),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	metrics, err := NewMetrics(provider.Meter(Namespace))
	if err != nil {
		return nil, nil, err
	}

	if err := runtime.Start(runtime.WithMeterProvider(provider), runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return nil, nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	metrics.prometheusHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return provider.Shutdown, metrics, nil
}
