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


package badger

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// Both retrieval representations of a chunk (vector and postings) are
// written in the same transaction, so a chunk is either fully queryable
// or absent.
type ChunkRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	idSeq, err := backend.GetSequence(chunkIDSeq)
	if err != nil {
		return nil, err
	}

	return &ChunkRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *ChunkRepository) Close() error {
	return r.idSeq.Release()
}

// AddChunks persists chunks with their vectors and lexical postings.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if err := writeChunk(tx, r.idSeq, chunk); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// ReplaceDocumentChunks soft-deletes a document's live chunks and writes
// the replacements in the same transaction.
func (r *ChunkRepository) ReplaceDocumentChunks(ctx context.Context, docID core.ID, chunks []*core.Chunk) ([]*core.Chunk, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkDocKey(docID)
		iter := tx.NewIterator(opts)

		var live []*core.Chunk
		for iter.Rewind(); iter.Valid(); iter.Next() {
			chunkID := memberID(iter.Item().Key())
			chunk, err := readChunk(tx, makeChunkKey(chunkID))
			if err != nil {
				iter.Close()
				return err
			}
			if chunk != nil && !chunk.Deleted {
				live = append(live, chunk)
			}
		}
		iter.Close()

		for _, chunk := range live {
			if err := deletePostings(tx, chunk); err != nil {
				return err
			}
			chunk.Deleted = true
			chunk.UpdatedAt = now
			if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}

		for _, chunk := range chunks {
			if err := writeChunk(tx, r.idSeq, chunk); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var result *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readChunk(tx, makeChunkKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetChunks retrieves multiple chunks by their IDs.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := readChunk(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	}, false)
	return results, err
}

// SoftDeleteChunks marks chunks deleted and removes their postings.
func (r *ChunkRepository) SoftDeleteChunks(ctx context.Context, ids ...core.ID) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, id := range ids {
			chunk, err := readChunk(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if chunk == nil || chunk.Deleted {
				continue
			}
			if err := deletePostings(tx, chunk); err != nil {
				return err
			}
			chunk.Deleted = true
			chunk.UpdatedAt = now
			if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// CountChunks returns the number of non-deleted chunks in a knowledge base.
// Length entries exist exactly for live chunks, so counting them avoids
// loading the records.
func (r *ChunkRepository) CountChunks(ctx context.Context, kbID core.ID) (int, error) {
	var count int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkLengthKey(kbID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// QueryVector ranks a knowledge base's live chunks by cosine similarity.
func (r *ChunkRepository) QueryVector(ctx context.Context, kbID core.ID, vector []float32, limit int) ([]core.ChunkMatch, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var matches []core.ChunkMatch
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return forEachKBChunk(tx, kbID, func(chunk *core.Chunk) error {
			if chunk.Deleted || len(chunk.Vector) == 0 {
				return nil
			}
			matches = append(matches, core.ChunkMatch{
				ChunkId: chunk.Id,
				Score:   cosineSimilarity(vector, chunk.Vector),
			})
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// QueryText ranks a knowledge base's live chunks by BM25 over the
// posting lists. Postings are removed when chunks are soft-deleted, so
// the scan only ever sees live chunks.
func (r *ChunkRepository) QueryText(ctx context.Context, kbID core.ID, query string, limit int) ([]core.ChunkMatch, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	tokens := core.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	unique := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		unique[tok] = true
	}

	var matches []core.ChunkMatch
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		chunkLen, totalLen, err := readKBLengths(tx, kbID)
		if err != nil {
			return err
		}
		n := len(chunkLen)
		if n == 0 {
			return nil
		}
		avgLen := float64(totalLen) / float64(n)
		if avgLen == 0 {
			avgLen = 1
		}

		scores := make(map[core.ID]float64)
		for token := range unique {
			postings, err := readPostings(tx, kbID, token)
			if err != nil {
				return err
			}
			df := len(postings)
			if df == 0 {
				continue
			}
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			for chunkID, tf := range postings {
				dl := float64(chunkLen[chunkID])
				norm := bm25K1 * (1 - bm25B + bm25B*dl/avgLen)
				scores[chunkID] += idf * (float64(tf) * (bm25K1 + 1)) / (float64(tf) + norm)
			}
		}

		for chunkID, score := range scores {
			matches = append(matches, core.ChunkMatch{ChunkId: chunkID, Score: score})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// writeChunk persists one chunk and all its index entries inside tx.
// Shared with the QA repository, which writes index chunks in its own
// transactions.
func writeChunk(tx *badger.Txn, seq *badger.Sequence, chunk *core.Chunk) error {
	if err := core.ValidateChunk(chunk); err != nil {
		return err
	}

	if chunk.Id == 0 {
		id, err := nextID(seq)
		if err != nil {
			return err
		}
		chunk.Id = core.ID(id)
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
	chunk.UpdatedAt = time.Now().UTC()

	if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
		return err
	}
	kbKey := makeChunkKBKey(chunk.KBId, chunk.Id)
	if err := tx.Set(kbKey, storage.MarshalID(chunk.Id)); err != nil {
		return err
	}
	if chunk.DocumentId != 0 {
		docKey := makeChunkDocKey(chunk.DocumentId, chunk.Id)
		if err := tx.Set(docKey, storage.MarshalID(chunk.Id)); err != nil {
			return err
		}
	}
	return writePostings(tx, chunk)
}

// readKBLengths loads the per-chunk token counts of a knowledge base.
func readKBLengths(tx *badger.Txn, kbID core.ID) (map[core.ID]int, int, error) {
	lengths := make(map[core.ID]int)
	total := 0

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialChunkLengthKey(kbID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		chunkID := memberID(iter.Item().Key())
		length, err := readIndexedID(iter.Item())
		if err != nil {
			return nil, 0, err
		}
		lengths[chunkID] = int(length)
		total += int(length)
	}
	return lengths, total, nil
}

// readPostings loads a token's posting list for a knowledge base.
func readPostings(tx *badger.Txn, kbID core.ID, token string) (map[core.ID]int, error) {
	postings := make(map[core.ID]int)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialPostingKey(kbID, token)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		chunkID := memberID(iter.Item().Key())
		tf, err := readIndexedID(iter.Item())
		if err != nil {
			return nil, err
		}
		postings[chunkID] = int(tf)
	}
	return postings, nil
}

// sortMatches orders matches by score descending, ties by chunk ID ascending.
func sortMatches(matches []core.ChunkMatch) {
	slices.SortFunc(matches, func(a, b core.ChunkMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.ChunkId < b.ChunkId {
			return -1
		}
		if a.ChunkId > b.ChunkId {
			return 1
		}
		return 0
	})
}

// cosineSimilarity computes cosine similarity between two vectors.
// Mismatched dimensions are not comparable and score 0, as do zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
