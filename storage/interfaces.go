package storage

import (
	"context"

	"github.com/poiesic/kbase/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
// Multi-record writes are transactional inside each repository method
// rather than composed by callers.
type Repository interface {
	// Close closes the storage backend and releases resources.
	Close() error
}

// VectorIndex answers dense retrieval queries over a knowledge base.
type VectorIndex interface {
	// QueryVector returns up to limit non-deleted chunks of the knowledge
	// base ranked by cosine similarity to the query vector (highest first).
	// Ties are broken by ascending chunk ID.
	QueryVector(ctx context.Context, kbID core.ID, vector []float32, limit int) ([]core.ChunkMatch, error)
}

// LexicalIndex answers BM25 retrieval queries over a knowledge base.
type LexicalIndex interface {
	// QueryText tokenizes the query and returns up to limit non-deleted
	// chunks ranked by BM25 score (highest first). Ties are broken by
	// ascending chunk ID. Query tokens absent from the index contribute
	// nothing; a query with no indexed tokens returns no matches.
	QueryText(ctx context.Context, kbID core.ID, query string, limit int) ([]core.ChunkMatch, error)
}

// KBRepository provides operations for managing knowledge bases.
type KBRepository interface {
	Repository

	// CreateKB persists a new knowledge base, assigning its ID from
	// sequence and setting timestamps.
	CreateKB(ctx context.Context, kb *core.KnowledgeBase) (*core.KnowledgeBase, error)

	// GetKB retrieves a knowledge base by ID, including soft-deleted ones.
	// Returns ErrNotFound if no record exists.
	GetKB(ctx context.Context, id core.ID) (*core.KnowledgeBase, error)

	// ListKBs returns the non-deleted knowledge bases of a project,
	// ordered by ID ascending.
	ListKBs(ctx context.Context, projectID core.ID) ([]*core.KnowledgeBase, error)

	// UpdateKB rewrites an existing knowledge base record and bumps
	// UpdatedAt. Returns ErrNotFound if the record doesn't exist.
	UpdateKB(ctx context.Context, kb *core.KnowledgeBase) (*core.KnowledgeBase, error)

	// QAKB returns the project's non-deleted QA knowledge base.
	// Returns ErrNotFound if the project has none.
	QAKB(ctx context.Context, projectID core.ID) (*core.KnowledgeBase, error)

	// GetOrCreateQAKB returns the project's QA knowledge base, creating
	// it if none exists. Thread-safe: handles concurrent creation attempts.
	GetOrCreateQAKB(ctx context.Context, projectID core.ID) (*core.KnowledgeBase, error)

	// SoftDeleteKB marks a knowledge base and all its documents and
	// chunks deleted, and removes the lexical postings, in one
	// transaction. Returns core.ErrIngestInFlight when the knowledge
	// base has non-terminal ingestion tasks and core.ErrQAKBProtected
	// when it is the project's QA knowledge base.
	SoftDeleteKB(ctx context.Context, id core.ID) error

	// RestoreKB reverses SoftDeleteKB: clears deletion flags and
	// rebuilds the lexical postings from the stored chunk tokens.
	RestoreKB(ctx context.Context, id core.ID) error
}

// DocumentRepository provides operations for managing ingested documents.
type DocumentRepository interface {
	Repository

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// ListDocuments returns the non-deleted documents of a knowledge
	// base, ordered by ID ascending.
	ListDocuments(ctx context.Context, kbID core.ID) ([]*core.Document, error)

	// FindDocumentByName finds a knowledge base's non-deleted document
	// by file name. Returns ErrNotFound if no match exists.
	FindDocumentByName(ctx context.Context, kbID core.ID, fileName string) (*core.Document, error)

	// UpdateDocument rewrites an existing document record and bumps
	// UpdatedAt. Returns ErrNotFound if the record doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)
}

// ChunkRepository provides operations for managing indexed chunks.
// Chunk writes maintain both retrieval representations together: a chunk
// never becomes visible with only its vector or only its postings.
type ChunkRepository interface {
	Repository
	VectorIndex
	LexicalIndex

	// AddChunks persists chunks with their vectors and lexical postings
	// in one transaction. IDs are assigned from sequence for chunks with
	// ID=0. All writes happen or none do.
	AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// ReplaceDocumentChunks soft-deletes a document's live chunks and
	// persists the replacements in the same transaction.
	ReplaceDocumentChunks(ctx context.Context, docID core.ID, chunks []*core.Chunk) ([]*core.Chunk, error)

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// GetChunks retrieves multiple chunks by their IDs.
	// Returns only the chunks that exist (no error for missing chunks).
	GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error)

	// SoftDeleteChunks marks chunks deleted and removes their lexical
	// postings in one transaction. Missing IDs are ignored.
	SoftDeleteChunks(ctx context.Context, ids ...core.ID) error

	// CountChunks returns the number of non-deleted chunks in a knowledge base.
	CountChunks(ctx context.Context, kbID core.ID) (int, error)
}

// QARepository provides operations for managing question/answer items.
type QARepository interface {
	Repository

	// AddQA persists a QA item together with its index chunk in one
	// transaction. The duplicate check against the project's question
	// hash index runs inside the transaction; returns
	// core.ErrDuplicateQA on collision with a non-deleted item.
	AddQA(ctx context.Context, item *core.QAItem, chunk *core.Chunk) (*core.QAItem, error)

	// UpdateQA rewrites a QA item and its index chunk in one
	// transaction, re-checking the question hash when it changed.
	// Returns ErrNotFound if the item doesn't exist.
	UpdateQA(ctx context.Context, item *core.QAItem, chunk *core.Chunk) (*core.QAItem, error)

	// GetQA retrieves a QA item by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetQA(ctx context.Context, id core.ID) (*core.QAItem, error)

	// SoftDeleteQA marks QA items and their index chunks deleted,
	// freeing the question hashes for reuse. Missing or already deleted
	// IDs are skipped. Returns the number of items actually deleted.
	SoftDeleteQA(ctx context.Context, ids ...core.ID) (int, error)

	// ListQA returns one page of a knowledge base's non-deleted QA
	// items ordered by ID ascending, plus the total non-deleted count.
	// Pages are 1-based.
	ListQA(ctx context.Context, kbID core.ID, page, pageSize int) ([]*core.QAItem, int, error)

	// FindQAByHash finds a project's non-deleted QA item by question
	// hash. Returns ErrNotFound if no match exists.
	FindQAByHash(ctx context.Context, projectID core.ID, hash core.ID) (*core.QAItem, error)
}

// TaskRepository provides operations for the ingestion task ledger.
// Tasks are append-mostly: they are created, driven through their state
// machine, and retained for audit.
type TaskRepository interface {
	Repository

	// CreateTaskWithDocument persists a new document record and its
	// pending ingestion task in one transaction, so a visible task
	// always has a visible document.
	CreateTaskWithDocument(ctx context.Context, doc *core.Document, task *core.IngestionTask) (*core.Document, *core.IngestionTask, error)

	// CreateTask persists a pending task for an existing document.
	CreateTask(ctx context.Context, task *core.IngestionTask) (*core.IngestionTask, error)

	// GetTask retrieves a task by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetTask(ctx context.Context, id core.ID) (*core.IngestionTask, error)

	// UpdateTask applies a state transition, enforcing the task state
	// machine. Returns core.ErrInvalidTaskState on an illegal
	// transition and ErrNotFound if the task doesn't exist.
	UpdateTask(ctx context.Context, task *core.IngestionTask) (*core.IngestionTask, error)

	// ActiveTaskForDocument returns the document's non-terminal task,
	// or ErrNotFound when every task of the document is terminal.
	ActiveTaskForDocument(ctx context.Context, docID core.ID) (*core.IngestionTask, error)

	// HasActiveKBTasks reports whether the knowledge base has any
	// non-terminal ingestion tasks.
	HasActiveKBTasks(ctx context.Context, kbID core.ID) (bool, error)

	// ListNonTerminal returns every pending or ingesting task in the
	// store, ordered by ID ascending. Used for orphan recovery.
	ListNonTerminal(ctx context.Context) ([]*core.IngestionTask, error)

	// LatestKBTask returns the most recently created task of a
	// knowledge base, or ErrNotFound when it has none.
	LatestKBTask(ctx context.Context, kbID core.ID) (*core.IngestionTask, error)
}
