// Package handler exposes the watcher's read API: the in-memory snapshot of
// the fleet, paginated sample history, collector statistics, the Prometheus
// scrape endpoint and a liveness probe.
package handler
