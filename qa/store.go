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


package qa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// Store manages a project's question/answer pairs and keeps each pair
// retrievable: adding or updating an item embeds its combined text and
// writes the index chunk in the same repository transaction as the
// item itself.
type Store struct {
	kbs      storage.KBRepository
	qas      storage.QARepository
	embedder ai.Embedder
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
	}
}

// NewStore creates a QA store over the given repositories.
func NewStore(kbs storage.KBRepository, qas storage.QARepository, embedder ai.Embedder, opts ...Option) (*Store, error) {
	if kbs == nil {
		return nil, ErrKBRepositoryRequired
	}
	if qas == nil {
		return nil, ErrQARepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Store{
		kbs:      kbs,
		qas:      qas,
		embedder: embedder,
		logger:   slog.Default().With("component", "qa"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add stores a new QA pair in the project's QA knowledge base,
// creating the knowledge base on first use. Returns
// core.ErrDuplicateQA when the project already holds a non-deleted
// item with the same normalized question.
func (s *Store) Add(ctx context.Context, projectID core.ID, question, answer string) (*core.QAItem, error) {
	item := &core.QAItem{
		ProjectId:    projectID,
		Question:     question,
		Answer:       answer,
		QuestionHash: core.QuestionHash(question),
	}
	if err := core.ValidateQAItem(item); err != nil {
		return nil, err
	}

	// Fail fast on duplicates before paying for an embedding call. The
	// authoritative check still runs inside the AddQA transaction.
	if existing, err := s.qas.FindQAByHash(ctx, projectID, item.QuestionHash); err == nil && existing != nil {
		return nil, core.ErrDuplicateQA
	} else if err != nil && err != storage.ErrNotFound {
		return nil, err
	}

	kb, err := s.kbs.GetOrCreateQAKB(ctx, projectID)
	if err != nil {
		return nil, err
	}
	item.KBId = kb.Id

	chunk, err := s.buildChunk(ctx, kb.Id, item)
	if err != nil {
		return nil, err
	}

	item, err = s.qas.AddQA(ctx, item, chunk)
	if err != nil {
		return nil, err
	}

	s.logger.Info("qa pair added", "project", projectID, "item", item.Id, "kb", kb.Id)
	return item, nil
}

// Update rewrites a QA pair. An empty question or answer keeps the
// stored value. A changed question is re-deduplicated against the
// project; the item keeps its ID and chunk identity either way.
func (s *Store) Update(ctx context.Context, id core.ID, question, answer string) (*core.QAItem, error) {
	item, err := s.qas.GetQA(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, storage.ErrNotFound
	}

	if question != "" {
		item.Question = question
		item.QuestionHash = core.QuestionHash(question)
	}
	if answer != "" {
		item.Answer = answer
	}

	chunk, err := s.buildChunk(ctx, item.KBId, item)
	if err != nil {
		return nil, err
	}

	item, err = s.qas.UpdateQA(ctx, item, chunk)
	if err != nil {
		return nil, err
	}

	s.logger.Info("qa pair updated", "item", item.Id)
	return item, nil
}

// Get retrieves a QA pair by ID, including soft-deleted ones.
func (s *Store) Get(ctx context.Context, id core.ID) (*core.QAItem, error) {
	return s.qas.GetQA(ctx, id)
}

// Delete soft-deletes QA pairs, freeing their questions for reuse.
// Missing or already deleted IDs are skipped. Returns the number of
// items actually deleted.
func (s *Store) Delete(ctx context.Context, ids ...core.ID) (int, error) {
	deleted, err := s.qas.SoftDeleteQA(ctx, ids...)
	if err != nil {
		return 0, err
	}
	s.logger.Info("qa pairs deleted", "requested", len(ids), "deleted", deleted)
	return deleted, nil
}

// List returns one page of the project's QA pairs ordered by ID
// ascending, plus the total count. Pages are 1-based. A project
// without a QA knowledge base has no pairs.
func (s *Store) List(ctx context.Context, projectID core.ID, page, pageSize int) ([]*core.QAItem, int, error) {
	kb, err := s.kbs.QAKB(ctx, projectID)
	if err == storage.ErrNotFound {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return s.qas.ListQA(ctx, kb.Id, page, pageSize)
}

// FindByQuestion finds the project's QA pair matching a question,
// ignoring case and whitespace differences. Returns
// storage.ErrNotFound if no live pair matches.
func (s *Store) FindByQuestion(ctx context.Context, projectID core.ID, question string) (*core.QAItem, error) {
	return s.qas.FindQAByHash(ctx, projectID, core.QuestionHash(question))
}

// buildChunk embeds and tokenizes the item's combined text into its
// index chunk.
func (s *Store) buildChunk(ctx context.Context, kbID core.ID, item *core.QAItem) (*core.Chunk, error) {
	text := item.CombinedText()
	vector, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbedding, err)
	}
	return &core.Chunk{
		KBId:   kbID,
		Text:   text,
		Vector: vector,
		Tokens: core.Tokenize(text),
	}, nil
}
