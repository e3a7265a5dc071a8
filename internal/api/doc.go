// Package api implements the admin HTTP API and WebSocket event stream for
// Gray Logic Voice.
//
// This package provides:
//   - Mapping administration per backend: devices, vocabulary, conflicts
//   - Grammar inspection and backend refresh
//   - Topic lifecycle and invocation
//   - Command history and the audit trail
//   - A WebSocket hub broadcasting grammar, mapping and dispatch events
//
// # Security
//
// Every route except /health requires a bearer JWT signed with the
// configured HS256 secret. Tokens are minted out of band (see the
// "token" CLI command). WebSocket connections authenticate with a
// single-use ticket so the token never appears in a URL. Requests are
// rate limited per client IP.
package api
