package qa

import "errors"

var (
	// ErrKBRepositoryRequired is returned when a knowledge base repository is not provided.
	ErrKBRepositoryRequired = errors.New("knowledge base repository required")

	// ErrQARepositoryRequired is returned when a QA repository is not provided.
	ErrQARepositoryRequired = errors.New("qa repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")
)
