// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

const (
	defaultLimit = 10

	// rrfK dampens the rank contribution in reciprocal rank fusion.
	rrfK = 60.0
)

// ScoredChunk pairs a chunk with its retrieval score. The score's
// meaning depends on the list it came from: cosine similarity for the
// dense list, BM25 for the lexical list, fused rank score for the
// merged list.
type ScoredChunk struct {
	Chunk *core.Chunk
	Score float64
}

// Result holds the three views of one retrieval: the dense ranking,
// the lexical ranking, and their fusion.
type Result struct {
	Dense   []ScoredChunk
	Lexical []ScoredChunk
	Merged  []ScoredChunk
}

// Retriever answers hybrid queries over a knowledge base. Both
// rankings run concurrently and are fused with reciprocal rank fusion,
// so a chunk placed well by either representation surfaces in the
// merged list.
type Retriever struct {
	kbs      storage.KBRepository
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
	}
}

// NewRetriever creates a hybrid retriever over the given repositories.
func NewRetriever(kbs storage.KBRepository, chunks storage.ChunkRepository, embedder ai.Embedder, opts ...Option) (*Retriever, error) {
	if kbs == nil {
		return nil, ErrKBRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		kbs:      kbs,
		chunks:   chunks,
		embedder: embedder,
		logger:   slog.Default().With("component", "search"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve runs a hybrid query against one knowledge base. kDense and
// kLexical cap the two candidate lists; values below 1 fall back to
// the default limit. The merged list is capped at the larger of the
// two.
func (r *Retriever) Retrieve(ctx context.Context, kbID core.ID, query string, kDense, kLexical int) (*Result, error) {
	return r.RetrieveWithMonitor(ctx, kbID, query, kDense, kLexical, &noopMonitor{})
}

// RetrieveWithMonitor is Retrieve with observation hooks.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, kbID core.ID, query string, kDense, kLexical int, monitor RetrievalMonitor) (*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if kDense < 1 {
		kDense = defaultLimit
	}
	if kLexical < 1 {
		kLexical = defaultLimit
	}

	kb, err := r.kbs.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.Deleted {
		return nil, storage.ErrNotFound
	}

	monitor.Start(query)

	vector, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbedding, err)
	}
	monitor.AfterEmbedding(len(vector))

	var dense, lexical []core.ChunkMatch
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var qerr error
		dense, qerr = r.chunks.QueryVector(gctx, kbID, vector, kDense)
		return qerr
	})
	g.Go(func() error {
		var qerr error
		lexical, qerr = r.chunks.QueryText(gctx, kbID, query, kLexical)
		return qerr
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	monitor.AfterDenseSearch(dense)
	monitor.AfterLexicalSearch(lexical)

	merged := fuse(dense, lexical, max(kDense, kLexical))

	result, err := r.resolve(ctx, dense, lexical, merged)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("retrieval complete",
		"kb", kbID, "dense", len(result.Dense), "lexical", len(result.Lexical), "merged", len(result.Merged))
	monitor.Finish(result)
	return result, nil
}

// fuse combines the two rankings with reciprocal rank fusion. A chunk
// appearing in both lists accumulates both contributions. Ties are
// broken by ascending chunk ID so results are stable across runs.
func fuse(dense, lexical []core.ChunkMatch, limit int) []core.ChunkMatch {
	scores := make(map[core.ID]float64)
	for rank, m := range dense {
		scores[m.ChunkId] += 1.0 / (rrfK + float64(rank+1))
	}
	for rank, m := range lexical {
		scores[m.ChunkId] += 1.0 / (rrfK + float64(rank+1))
	}

	merged := make([]core.ChunkMatch, 0, len(scores))
	for id, score := range scores {
		merged = append(merged, core.ChunkMatch{ChunkId: id, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ChunkId < merged[j].ChunkId
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// resolve loads every chunk referenced by the three rankings in one
// batch and materializes the scored lists.
func (r *Retriever) resolve(ctx context.Context, dense, lexical, merged []core.ChunkMatch) (*Result, error) {
	seen := make(map[core.ID]bool)
	ids := make([]core.ID, 0, len(dense)+len(lexical))
	for _, list := range [][]core.ChunkMatch{dense, lexical, merged} {
		for _, m := range list {
			if !seen[m.ChunkId] {
				seen[m.ChunkId] = true
				ids = append(ids, m.ChunkId)
			}
		}
	}

	chunks, err := r.chunks.GetChunks(ctx, ids...)
	if err != nil {
		return nil, err
	}
	byID := make(map[core.ID]*core.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.Id] = c
	}

	materialize := func(matches []core.ChunkMatch) []ScoredChunk {
		out := make([]ScoredChunk, 0, len(matches))
		for _, m := range matches {
			chunk, ok := byID[m.ChunkId]
			if !ok {
				continue
			}
			out = append(out, ScoredChunk{Chunk: chunk, Score: m.Score})
		}
		return out
	}

	return &Result{
		Dense:   materialize(dense),
		Lexical: materialize(lexical),
		Merged:  materialize(merged),
	}, nil
}
