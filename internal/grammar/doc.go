// Package grammar derives the constrained output language an inference
// engine samples from.
//
// A grammar is generated from a device.Snapshot: only devices that are
// enabled, fully assigned and not part of a conflicting (device type,
// location) pair contribute. Each observed device type gets its own
// sentence rule listing exactly the actions legal for that type and exactly
// the locations where it has an eligible device, so the engine can never
// emit a command that has nowhere to go.
//
// The emitted text is GBNF: quoted terminals, | for alternation,
// juxtaposition for sequencing and an explicit ws rule. Every sentence is
// a JSON object, so the engine output is both grammar-conformant and
// machine readable:
//
//	{"action": "on", "device_type": "lights", "location": "kitchen"}
//	{"action": "set_percent", "device_type": "blinds", "location": "bedroom", "value": 40}
//	{"action": "unrecognized"}
//
// The last form is always present. With no eligible devices it is the only
// sentence the grammar accepts.
//
// # Caching
//
// Generate is pure. Documents are cached per backend in a Cache that
// publishes with compare-and-swap on the revision, so concurrent readers may
// regenerate redundantly but a newer document is never replaced by an
// older one. Generated documents can also be persisted to a BadgerStore,
// keyed by their input hash; the store is a disposable artifact cache.
//
// # Usage
//
//	provider := grammar.NewProvider(grammar.NewCache(), grammar.DefaultProfiles())
//	doc, err := provider.Document(ctx, registry.Snapshot())
//	if err != nil {
//	    return err
//	}
//	output, err := engine.Complete(ctx, doc.Text, prompt)
package grammar
