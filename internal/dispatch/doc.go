// Package dispatch resolves validated commands to devices and executes
// them against a backend.
//
// # Resolution
//
// A Resolver tries its strategies in order and the first match wins:
//
//  1. ExplicitMapping: the unique eligible registry device for the pair
//  2. LegacyTable: a static pair to device table from configuration
//  3. DefaultFallback: a configured catch-all device, logged at WARN
//
// The winning strategy's MappingSource travels with the result so an
// operator can always tell why a command reached a given device.
//
// # Execution
//
// The Executor maps the command action to a backend verb through a
// VerbTable and calls the backend under a bounded timeout. Backend
// failures come back as *DispatchError wrapping ErrDispatchFailed with the
// cause classified as timeout, rejected, connectivity or error. Nothing
// is retried here.
//
// Completed invocations are kept in a History ring buffer.
package dispatch
