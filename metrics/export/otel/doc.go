// Package otel publishes authcore counters through OpenTelemetry observable
// instruments.
//
// [NewExporter] registers an Int64ObservableCounter per counter and, for the
// authenticate latency histogram, a cumulative bucket gauge with an "le"
// attribute. A single callback reads [authcore.Engine.MetricsSnapshot] on each
// collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
