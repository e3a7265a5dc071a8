// Package homeassistant implements backend.Backend against the Home
// Assistant REST API.
//
// Entities come from GET /api/states, filtered to controllable domains.
// Areas are resolved with a single POST /api/template call; when that
// fails the entities are still returned, just without areas. Actions are
// POST /api/services/{domain}/{service} calls.
//
// The long-lived access token is sent as a bearer token and never logged.
package homeassistant
