// Package prometheus exposes authcore counters as a client_golang Collector.
//
// Counter names are authcore_*_total; the single histogram is
// authcore_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     Collector or mount Handler.
//   - Mutate engine state.
package prometheus
