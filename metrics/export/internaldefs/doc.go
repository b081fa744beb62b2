// Package internaldefs holds the metric names, help strings and bucket bounds
// shared by the Prometheus and OTel exporters so both publish identical
// series.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
