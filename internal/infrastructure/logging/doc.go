// Package logging provides structured logging for Gray Logic Voice.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Rotating file output via lumberjack
//   - Default fields (service, version) on all log entries
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "./logs/graylogic-voice.log"
//	    max_size: 50     # megabytes
//	    max_backups: 5
//	    max_age: 14      # days
//	    compress: true
//
// # Security
//
// Never log secrets, tokens, passwords, or API keys. Raw utterances are
// logged at debug level only.
package logging
