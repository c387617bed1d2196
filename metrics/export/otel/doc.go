// Package otel binds engine counters and histograms to OpenTelemetry
// observable instruments.
//
// [New] registers an Int64ObservableCounter per counter. Each histogram gets
// a "_bucket" gauge with one point per "le" bound and a "_count" gauge. A
// single callback reads [actorauth.Engine.MetricsSnapshot] on each
// collection. Nothing is recorded on the authentication hot path. Callers
// own the MeterProvider.
package otel
