// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, the entity run repository and outbound notifications.
// Each sink satisfies progress.Sink and tolerates repeated Consume calls.
package sinks
