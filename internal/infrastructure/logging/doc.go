// Package logging provides structured logging for Relay Bridge.
//
// It wraps the standard library's log/slog with service defaults
// (service name, version) and config-driven level/format/output selection.
// Components receive a *Logger and typically scope it with With:
//
//	bridgeLog := logger.With("component", "bridge")
//
// JSON output is the production default; text output is available for
// local development.
package logging
