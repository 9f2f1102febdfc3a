// Package rag implements the question-answering pipeline: embed the question,
// retrieve nearest chunks from the pgvector index, assemble a diversity-aware
// context under a token budget, build the Icelandic tutoring prompt, invoke
// the LLM with retry/backoff, and map the model's citation markers back to
// the chunks that were actually in context.
//
// The pipeline is stateless per request. Every stage returns a typed result;
// [Pipeline.Ask] is the only place deciding whether to retry, short-circuit
// (empty retrieval never reaches the LLM) or surface a failure. Failures are
// [Error] values carrying a [Kind] from the taxonomy in errors.go.
package rag
