// Package prometheus exposes engine counters and latency histograms as a
// prometheus.Collector.
//
// Counter names follow actorauth_*_total; histograms are
// actorauth_refresh_latency_seconds and actorauth_authenticate_latency_seconds.
// Callers either register the [Exporter] in their own registry or mount
// [Exporter.Handler].
package prometheus
