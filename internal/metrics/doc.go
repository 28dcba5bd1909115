// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Inbound message rates per channel
//   - Decode and transport errors per channel
//   - Command round outcomes and latency
//   - Connector lifecycle state
//
// Collectors register on a caller-supplied prometheus.Registerer so tests
// and the binary each own their registry. A nil *Metrics is valid and
// records nothing.
package metrics
