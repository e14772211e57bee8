package ai

import (
	"context"
	"errors"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Error classes for embedding failures. Callers use these to decide
// whether a retry is worthwhile.
var (
	// ErrRateLimited indicates the service pushed back and the call may
	// succeed after a delay.
	ErrRateLimited = errors.New("embedding service rate limited")

	// ErrUnavailable indicates the service rejected the request in a way
	// retries will not fix (bad model name, unreachable host, auth).
	ErrUnavailable = errors.New("embedding service unavailable")
)
