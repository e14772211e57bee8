// Package mock provides a test double for the ai.Embedder interface.
//
// The default behavior is deterministic: the same text always yields
// the same pseudo-random unit vector, so similarity-dependent tests are
// reproducible without a live embedding service. Failure injection goes
// through the function fields:
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, ai.ErrRateLimited
//	}
package mock
