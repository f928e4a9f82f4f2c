// Package logging provides a minimal logging interface and adapters for the
// chat agent runtime.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) used by the gate, the pipeline stages and the engine. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter and AgentLogger built on log/slog
//   - ZapAdapter for deployments that standardize on zap
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(provider, messenger, func(o *engine.Options) { o.Logger = logger })
//
// Message keys are dotted event names (gate.admit.contention, decide.failed)
// followed by key/value attributes.
package logging
