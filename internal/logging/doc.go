// Package logging provides structured logging for meshd built on Zap.
//
// Every module logs through *logging.Logger, a thin wrapper that pulls
// correlation fields (trace IDs, agent ID, request ID) out of the
// context.Context on every call. Log output goes to stdout (JSON or
// console encoding) and, when telemetry is enabled, to an OTLP collector
// via the otelzap bridge.
package logging
