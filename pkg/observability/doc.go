// Package observability provides the service's logging, metrics, tracing and
// health-check plumbing.
//
// Logging is structured JSON over stdlib slog (see Logger). Metrics are
// Prometheus collectors covering HTTP traffic, authentication outcomes,
// session registry activity, tenant-isolation denials and quota decisions.
// Tracing is OpenTelemetry over OTLP/gRPC, disabled by default.
//
// Health checks treat both Postgres and Redis as hard dependencies: the
// session registry and row-level-security context live in Postgres, and
// quota checks fail closed when Redis is unreachable.
package observability
