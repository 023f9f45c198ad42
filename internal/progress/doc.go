// Package progress provides the lifecycle events emitted while a collection
// run walks the restaurant list, plus a non-blocking hub that batches them on
// a background goroutine and fans them out to pluggable sinks such as zap
// logs, Prometheus collectors, a Postgres run ledger or Pub/Sub notifications.
package progress
