// Package logging provides structured logging for nightscan.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the controller. Every decision
// and fault of the observation cycle is logged with a timestamp.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version, site) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional per-run log file named after the site and start time
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  dir: "/var/log/nightscan"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, cfg.Site.ID, "1.0.0")
//	defer logger.Close()
//	logger.Info("sunset computed", "sunset", night.Sunset)
//	logger.Error("relay unreachable", "error", err)
//
// Never log relay or broker credentials.
package logging
