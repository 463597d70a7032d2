// Package logging provides structured logging for Keyrunner.
//
// This package wraps Go's standard log/slog package so that every
// component logs through the same handler with the same default fields.
//
// # Features
//
//   - Text output by default (human-readable on a desktop terminal)
//   - JSON output for log shipping
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, stdout
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("run started", "plan", plan.Name)
//
// Never log typed text from "string" actions at info level or above; plans
// may contain credentials.
package logging
