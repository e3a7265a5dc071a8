// Package backend defines the capability set every smart-home backend
// exposes to the voice core, and a factory that builds backends by their
// declared type.
//
// A backend does three things:
//
//   - FetchEntities lists the devices it can control
//   - DispatchAction invokes a native verb on one device
//   - TestConnection checks reachability and credentials
//
// Implementations live in sub-packages and register themselves:
//
//	import _ "github.com/nerrad567/gray-logic-voice/internal/backend/homeassistant"
//
//	b, err := backend.New(cfg, backend.Deps{Logger: log})
//
// Transport failures are reported with ErrUnavailable and refusals with
// ErrRejected so the dispatch layer can classify them without knowing the
// transport.
package backend
