// Package ai defines the embedding service abstraction used by the
// ingestion pipeline, the QA store, and retrieval.
//
// The Embedder interface is implemented by the openai subpackage for
// OpenAI-compatible services (Ollama, LocalAI, vLLM, OpenAI itself) and
// by the mock subpackage for tests.
//
// # Configuration
//
// Config carries the host and model for the embedding service:
//
//	cfg := ai.NewConfig(
//	    ai.WithEmbeddingHost("http://localhost:11434"),
//	    ai.WithEmbeddingModel("embeddinggemma"),
//	)
//
// Hosts are normalized to include the /v1 suffix expected by
// OpenAI-compatible APIs.
//
// # Error Classification
//
// Implementations wrap failures with ErrRateLimited when a retry may
// succeed and ErrUnavailable when it will not. The ingestion pipeline's
// retry policy keys off these classes.
package ai
