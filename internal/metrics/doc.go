// Package metrics exposes the run's Prometheus registry over HTTP and as a
// node_exporter textfile.
package metrics
