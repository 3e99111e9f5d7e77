// Package observability wires the daemon's operational surface:
// Prometheus metrics, slog logging with secret redaction, and
// OpenTelemetry tracing that degrades to no-ops when unconfigured.
package observability
