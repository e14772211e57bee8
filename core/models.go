package core

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing or database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// IDFromBytes generates a deterministic ID from raw bytes.
// Used for document content hashes.
func IDFromBytes(data []byte) ID {
	h, _ := blake2b.New(8, nil)
	h.Write(data)
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// TaskState identifies the lifecycle state of an ingestion task.
type TaskState int

const (
	// TaskPending means the task has been recorded but no worker has picked it up.
	TaskPending TaskState = iota + 1
	// TaskIngesting means the pipeline is running.
	TaskIngesting
	// TaskSucceeded is terminal: all chunks are indexed and visible.
	TaskSucceeded
	// TaskFailed is terminal: the task carries an error detail.
	TaskFailed
)

// String returns the lowercase name of the state.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskIngesting:
		return "ingesting"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition may leave this state.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// KnowledgeBase is a named document collection within a project.
// At most one non-deleted QA knowledge base exists per project.
type KnowledgeBase struct {
	Id        ID
	ProjectId ID
	Name      string
	QAOnly    bool // reserved for the project's QA items
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document is one ingested source file, owned by a knowledge base.
type Document struct {
	Id          ID
	KBId        ID
	FileName    string
	ContentHash ID // BLAKE2b of the raw file bytes
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is a contiguous text segment of a document, or the indexed form
// of a QA item (DocumentId == 0). A chunk is only visible to retrieval
// once both its vector and its token representation are persisted.
type Chunk struct {
	Id         ID
	KBId       ID
	DocumentId ID // 0 for QA-origin chunks
	Ordinal    int
	Offset     int // character offset of the segment in the source text
	Text       string
	Vector     []float32
	Tokens     []string
	Deleted    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// QAItem is a question/answer pair scoped to a project's QA knowledge base.
// QuestionHash is the dedup key: unique among non-deleted items per project.
type QAItem struct {
	Id           ID
	KBId         ID
	ProjectId    ID
	Question     string
	Answer       string
	QuestionHash ID
	ChunkId      ID
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CombinedText returns the single-chunk text form of the item,
// which is what gets embedded and tokenized for retrieval.
func (q *QAItem) CombinedText() string {
	return "Q: " + q.Question + "\nA: " + q.Answer
}

// IngestionTask is one attempt to ingest a document. Tasks are never
// deleted; they are retained in the ledger for audit.
type IngestionTask struct {
	Id          ID
	KBId        ID
	DocumentId  ID
	State       TaskState
	ErrorDetail string // set only when State == TaskFailed
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkMatch is one index query hit: a chunk ID with a relevance score.
// Higher scores are more relevant regardless of which index produced them.
type ChunkMatch struct {
	ChunkId ID
	Score   float64
}

// NormalizeQuestion canonicalizes a question for deduplication:
// case-folded with runs of whitespace collapsed to single spaces.
func NormalizeQuestion(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

// QuestionHash computes the dedup key for a question.
func QuestionHash(question string) ID {
	return IDFromContent(NormalizeQuestion(question))
}
