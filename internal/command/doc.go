// Package command turns raw inference engine output into a canonical
// Command and re-validates it against the grammar document the engine
// was constrained by.
//
// The engine is trusted to honour the grammar, but a document can go stale
// between generation and parsing, and engines occasionally wrap output in
// prose or code fences. Parse therefore:
//
//   - extracts the first JSON object from the text, repairing minor syntax
//     damage (trailing commas, missing closing braces)
//   - rejects missing or ill-typed fields with ErrMalformedOutput
//   - maps the noop sentence to ErrUnrecognized
//   - rejects any term outside the document's scope with a *ViolationError
//     wrapping ErrGrammarViolation
//
// None of these errors is retried here. Re-prompting belongs to the caller.
package command
