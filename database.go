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


package kbase

import (
	"context"
	"log/slog"

	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/ai/openai"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/ingestion"
	"github.com/poiesic/kbase/qa"
	"github.com/poiesic/kbase/search"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/storage/badger"
)

// Database is the entry point to a knowledge base store: one Badger
// backend holding knowledge bases, documents, chunks, QA pairs, and
// the ingestion task ledger, plus the embedder the pipelines share.
type Database struct {
	repos    *badger.Repositories
	embedder ai.Embedder
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	embedder ai.Embedder
	inMemory bool
}

// WithAIConfig sets the embedding service configuration.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		if cfg != nil {
			o.aiConfig = cfg
		}
	}
}

// WithEmbedder injects an embedder directly, bypassing the embedding
// service configuration.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// WithInMemory keeps the store in memory instead of on disk.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// NewDatabase opens a knowledge base store at filePath.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	embedder := options.embedder
	if embedder == nil {
		var err error
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			return nil, err
		}
	}

	repos, err := badger.OpenRepositories(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	return &Database{
		repos:    repos,
		embedder: embedder,
		logger:   slog.Default(),
	}, nil
}

// Close releases the repositories and the backend.
func (db *Database) Close() error {
	if err := db.repos.Close(); err != nil {
		db.logger.Error("error closing storage", "err", err)
		return err
	}
	return nil
}

func (db *Database) KBRepository() storage.KBRepository {
	return db.repos.KBs
}

func (db *Database) DocumentRepository() storage.DocumentRepository {
	return db.repos.Docs
}

func (db *Database) ChunkRepository() storage.ChunkRepository {
	return db.repos.Chunks
}

func (db *Database) QARepository() storage.QARepository {
	return db.repos.QAs
}

func (db *Database) TaskRepository() storage.TaskRepository {
	return db.repos.Tasks
}

// NewOrchestrator creates an ingestion orchestrator over this store.
func (db *Database) NewOrchestrator(opts ...ingestion.Option) (*ingestion.Orchestrator, error) {
	return ingestion.NewOrchestrator(db.repos.KBs, db.repos.Docs, db.repos.Chunks, db.repos.Tasks, db.embedder, opts...)
}

// NewRetriever creates a hybrid retriever over this store.
func (db *Database) NewRetriever(opts ...search.Option) (*search.Retriever, error) {
	return search.NewRetriever(db.repos.KBs, db.repos.Chunks, db.embedder, opts...)
}

// NewQAStore creates a QA store over this store.
func (db *Database) NewQAStore(opts ...qa.Option) (*qa.Store, error) {
	return qa.NewStore(db.repos.KBs, db.repos.QAs, db.embedder, opts...)
}

// KnowledgeBaseInfo is a knowledge base with its listing aggregates.
type KnowledgeBaseInfo struct {
	*core.KnowledgeBase
	DocumentCount int
	ChunkCount    int
	// LastTask is the knowledge base's most recent ingestion task,
	// nil when nothing was ever ingested.
	LastTask *core.IngestionTask
}

// CreateKnowledgeBase creates a regular knowledge base in a project.
func (db *Database) CreateKnowledgeBase(ctx context.Context, projectID core.ID, name string) (*core.KnowledgeBase, error) {
	return db.repos.KBs.CreateKB(ctx, &core.KnowledgeBase{ProjectId: projectID, Name: name})
}

// ListKnowledgeBases returns a project's live knowledge bases with
// their document and chunk counts and latest ingestion task.
func (db *Database) ListKnowledgeBases(ctx context.Context, projectID core.ID) ([]*KnowledgeBaseInfo, error) {
	kbs, err := db.repos.KBs.ListKBs(ctx, projectID)
	if err != nil {
		return nil, err
	}

	infos := make([]*KnowledgeBaseInfo, 0, len(kbs))
	for _, kb := range kbs {
		docs, err := db.repos.Docs.ListDocuments(ctx, kb.Id)
		if err != nil {
			return nil, err
		}
		chunkCount, err := db.repos.Chunks.CountChunks(ctx, kb.Id)
		if err != nil {
			return nil, err
		}
		last, err := db.repos.Tasks.LatestKBTask(ctx, kb.Id)
		if err != nil && err != storage.ErrNotFound {
			return nil, err
		}
		infos = append(infos, &KnowledgeBaseInfo{
			KnowledgeBase: kb,
			DocumentCount: len(docs),
			ChunkCount:    chunkCount,
			LastTask:      last,
		})
	}
	return infos, nil
}

// DeleteKnowledgeBase soft-deletes a knowledge base with everything it
// holds. Refused for the project's QA knowledge base and while
// ingestion tasks are still running.
func (db *Database) DeleteKnowledgeBase(ctx context.Context, id core.ID) error {
	return db.repos.KBs.SoftDeleteKB(ctx, id)
}

// RestoreKnowledgeBase reverses a soft delete, rebuilding the lexical
// index from the stored chunks.
func (db *Database) RestoreKnowledgeBase(ctx context.Context, id core.ID) error {
	return db.repos.KBs.RestoreKB(ctx, id)
}

// TaskStatus returns the current state of an ingestion task.
func (db *Database) TaskStatus(ctx context.Context, id core.ID) (*core.IngestionTask, error) {
	return db.repos.Tasks.GetTask(ctx, id)
}
