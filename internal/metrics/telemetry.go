package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

const meterName = "github.com/angeloszaimis/fleet-watcher"

// Telemetry owns the OpenTelemetry instruments the collector mirrors into.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	probes        metric.Int64Counter
	probeDuration metric.Float64Histogram
	pollCycles    metric.Int64Counter
	notifications metric.Int64Counter
	serverState   metric.Int64Gauge
}

// NewTelemetry sets up instruments for exporter. With ExporterNone the
// instruments are no-ops and Handler answers 404.
func NewTelemetry(exporter string) (*Telemetry, error) {
	t := &Telemetry{handler: http.NotFoundHandler()}

	var meter metric.Meter
	switch exporter {
	case ExporterPrometheus:
		registry := prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		t.provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
		t.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		meter = t.provider.Meter(meterName)
	case ExporterNone, "":
		meter = noop.NewMeterProvider().Meter(meterName)
	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", exporter)
	}

	var err error
	if t.probes, err = meter.Int64Counter("fleetwatch.probes",
		metric.WithDescription("Completed probes by kind, entity and outcome")); err != nil {
		return nil, err
	}
	if t.probeDuration, err = meter.Float64Histogram("fleetwatch.probe.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Probe latency")); err != nil {
		return nil, err
	}
	if t.pollCycles, err = meter.Int64Counter("fleetwatch.poll.cycles",
		metric.WithDescription("Poll cycles started, rechecks included")); err != nil {
		return nil, err
	}
	if t.notifications, err = meter.Int64Counter("fleetwatch.notifications",
		metric.WithDescription("Notification delivery attempts by channel and outcome")); err != nil {
		return nil, err
	}
	if t.serverState, err = meter.Int64Gauge("fleetwatch.server.state",
		metric.WithDescription("0 unknown, 1 up, 2 probation, 3 down")); err != nil {
		return nil, err
	}
	return t, nil
}

// Handler serves the scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func (t *Telemetry) record(ctx context.Context, event MetricEvent) {
	switch event.Type {
	case EventProbeCompleted:
		attrs := metric.WithAttributes(
			attribute.String("kind", string(event.Kind)),
			attribute.String("entity", event.Entity),
			attribute.Bool("ok", event.OK))
		t.probes.Add(ctx, 1, attrs)
		t.probeDuration.Record(ctx, event.Duration.Seconds(), attrs)

	case EventPollCycle:
		t.pollCycles.Add(ctx, 1, metric.WithAttributes(attribute.Bool("recheck", event.Recheck)))

	case EventNotificationSent, EventNotificationFailed:
		t.notifications.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", event.Channel),
			attribute.Bool("ok", event.Type == EventNotificationSent)))

	case EventStateChanged:
		t.serverState.Record(ctx, int64(event.State), metric.WithAttributes(
			attribute.String("server", event.Entity)))
	}
}
