// Package logging provides structured logging for Biolock Core.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes on every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("mqtt").Info("connected", "broker", host)
//
// # Security
//
// Never log device API keys, JWTs or password hashes. Log the device ID
// instead of the key when a credential check fails.
package logging
