// Package topic binds a model, a backend and that backend's grammar into
// named, independently enabled voice pipelines.
//
// A topic moves through a small state machine:
//
//	unconfigured --Configure--> configured --Enable--> enabled
//	                                 |                   |
//	                                 +------Disable------+--> disabled
//
// Only enabled topics accept invocations. Configured and disabled topics
// refuse with ErrTopicDisabled instead of falling through to a default.
//
// Invoke runs the full pipeline for one utterance: current grammar
// (regenerated when the registry revision has advanced), inference,
// parsing, resolution and dispatch. Every invocation, successful or not,
// is recorded in the dispatch history and handed to result listeners.
// Invocations are detached from the caller's cancellation and bounded by
// the inference and backend timeouts instead.
package topic
