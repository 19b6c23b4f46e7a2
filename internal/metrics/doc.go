// Package metrics collects watcher statistics.
//
// Probes, state changes, notifications and poll cycles are reported as
// events on a buffered channel and folded into an in-memory aggregate by a
// single goroutine, so reporting never blocks a probe or a notification.
// The aggregate is served as JSON; the same events are mirrored into
// OpenTelemetry instruments, which the Prometheus exporter exposes for
// scraping.
//
//	telemetry, _ := metrics.NewTelemetry(metrics.ExporterPrometheus)
//	collector := metrics.NewCollector(1000, telemetry, logger)
//	collector.Start(ctx)
//
//	collector.RecordProbe(models.KindStatus, "st-a", true, 120*time.Millisecond)
//	snapshot := collector.Snapshot()
package metrics
