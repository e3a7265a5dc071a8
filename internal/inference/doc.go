// Package inference talks to the external engine that performs
// grammar-constrained sampling.
//
// The engine is opaque: it receives the grammar text, a system prompt and
// the user's utterance, and returns text. OpenAIEngine speaks the
// OpenAI-compatible chat completions protocol and passes the GBNF document
// in the non-standard "grammar" request field understood by llama.cpp
// style servers. Sampling temperature defaults to zero so the same
// utterance against the same grammar yields the same command.
package inference
