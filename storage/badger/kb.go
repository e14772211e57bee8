package badger

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// qaKBName is the reserved name of the per-project QA knowledge base.
const qaKBName = "qa"

// KBRepository implements storage.KBRepository for BadgerDB.
type KBRepository struct {
	backend  *Backend
	idSeq    *badger.Sequence
	createMu sync.Mutex
}

var _ storage.KBRepository = (*KBRepository)(nil)

// NewKBRepository creates a new KBRepository.
func NewKBRepository(backend *Backend) (*KBRepository, error) {
	idSeq, err := backend.GetSequence(kbIDSeq)
	if err != nil {
		return nil, err
	}

	return &KBRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *KBRepository) Close() error {
	return r.idSeq.Release()
}

// CreateKB persists a new knowledge base.
func (r *KBRepository) CreateKB(ctx context.Context, kb *core.KnowledgeBase) (*core.KnowledgeBase, error) {
	if err := core.ValidateKnowledgeBase(kb); err != nil {
		return nil, err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		id, err := nextID(r.idSeq)
		if err != nil {
			return err
		}
		kb.Id = core.ID(id)
		kb.CreatedAt = time.Now().UTC()
		kb.UpdatedAt = kb.CreatedAt

		if err := tx.Set(makeKBKey(kb.Id), storage.MarshalKB(kb)); err != nil {
			return err
		}
		projKey := makeKBProjectKey(kb.ProjectId, kb.Id)
		if err := tx.Set(projKey, storage.MarshalID(kb.Id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return kb, nil
}

// GetKB retrieves a knowledge base by ID, including soft-deleted ones.
func (r *KBRepository) GetKB(ctx context.Context, id core.ID) (*core.KnowledgeBase, error) {
	var result *core.KnowledgeBase
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readKB(tx, makeKBKey(id))
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

// ListKBs returns the non-deleted knowledge bases of a project.
func (r *KBRepository) ListKBs(ctx context.Context, projectID core.ID) ([]*core.KnowledgeBase, error) {
	var results []*core.KnowledgeBase
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialKBProjectKey(projectID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			kbID, err := readIndexedID(iter.Item())
			if err != nil {
				return err
			}
			kb, err := readKB(tx, makeKBKey(kbID))
			if err != nil {
				return err
			}
			if kb != nil && !kb.Deleted {
				results = append(results, kb)
			}
		}
		return nil
	}, false)
	return results, err
}

// UpdateKB rewrites an existing knowledge base record.
func (r *KBRepository) UpdateKB(ctx context.Context, kb *core.KnowledgeBase) (*core.KnowledgeBase, error) {
	if err := core.ValidateKnowledgeBase(kb); err != nil {
		return nil, err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := readKB(tx, makeKBKey(kb.Id))
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}

		kb.CreatedAt = old.CreatedAt
		kb.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeKBKey(kb.Id), storage.MarshalKB(kb)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return kb, nil
}

// QAKB returns the project's non-deleted QA knowledge base.
func (r *KBRepository) QAKB(ctx context.Context, projectID core.ID) (*core.KnowledgeBase, error) {
	var result *core.KnowledgeBase
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = findQAKB(tx, projectID)
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

// GetOrCreateQAKB returns the project's QA knowledge base, creating it
// if none exists. Creation is serialized so concurrent callers cannot
// produce two QA knowledge bases for the same project.
func (r *KBRepository) GetOrCreateQAKB(ctx context.Context, projectID core.ID) (*core.KnowledgeBase, error) {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	existing, err := r.QAKB(ctx, projectID)
	if err == nil {
		return existing, nil
	}
	if err != storage.ErrNotFound {
		return nil, err
	}

	kb := &core.KnowledgeBase{
		ProjectId: projectID,
		Name:      qaKBName,
		QAOnly:    true,
	}
	return r.CreateKB(ctx, kb)
}

// SoftDeleteKB marks a knowledge base and its contents deleted in one
// transaction, removing the lexical postings so retrieval cannot see
// the deleted chunks.
func (r *KBRepository) SoftDeleteKB(ctx context.Context, id core.ID) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		kb, err := readKB(tx, makeKBKey(id))
		if err != nil {
			return err
		}
		if kb == nil {
			return storage.ErrNotFound
		}
		if kb.QAOnly {
			return core.ErrQAKBProtected
		}
		if kb.Deleted {
			return nil
		}

		active, err := hasActiveTasks(tx, id)
		if err != nil {
			return err
		}
		if active {
			return core.ErrIngestInFlight
		}

		now := time.Now().UTC()

		if err := forEachKBDocument(tx, id, func(doc *core.Document) error {
			if doc.Deleted {
				return nil
			}
			doc.Deleted = true
			doc.UpdatedAt = now
			return tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc))
		}); err != nil {
			return err
		}

		if err := forEachKBChunk(tx, id, func(chunk *core.Chunk) error {
			if chunk.Deleted {
				return nil
			}
			if err := deletePostings(tx, chunk); err != nil {
				return err
			}
			chunk.Deleted = true
			chunk.UpdatedAt = now
			return tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk))
		}); err != nil {
			return err
		}

		kb.Deleted = true
		kb.UpdatedAt = now
		if err := tx.Set(makeKBKey(kb.Id), storage.MarshalKB(kb)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RestoreKB reverses SoftDeleteKB, rebuilding the lexical postings from
// the stored chunk tokens.
func (r *KBRepository) RestoreKB(ctx context.Context, id core.ID) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		kb, err := readKB(tx, makeKBKey(id))
		if err != nil {
			return err
		}
		if kb == nil {
			return storage.ErrNotFound
		}
		if !kb.Deleted {
			return nil
		}

		now := time.Now().UTC()

		if err := forEachKBDocument(tx, id, func(doc *core.Document) error {
			if !doc.Deleted {
				return nil
			}
			doc.Deleted = false
			doc.UpdatedAt = now
			return tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc))
		}); err != nil {
			return err
		}

		if err := forEachKBChunk(tx, id, func(chunk *core.Chunk) error {
			if !chunk.Deleted {
				return nil
			}
			chunk.Deleted = false
			chunk.UpdatedAt = now
			if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			return writePostings(tx, chunk)
		}); err != nil {
			return err
		}

		kb.Deleted = false
		kb.UpdatedAt = now
		if err := tx.Set(makeKBKey(kb.Id), storage.MarshalKB(kb)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// findQAKB scans a project's knowledge bases for the live QA one.
func findQAKB(tx *badger.Txn, projectID core.ID) (*core.KnowledgeBase, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialKBProjectKey(projectID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		kbID, err := readIndexedID(iter.Item())
		if err != nil {
			return nil, err
		}
		kb, err := readKB(tx, makeKBKey(kbID))
		if err != nil {
			return nil, err
		}
		if kb != nil && kb.QAOnly && !kb.Deleted {
			return kb, nil
		}
	}
	return nil, nil
}

// hasActiveTasks reports whether a knowledge base has non-terminal tasks.
func hasActiveTasks(tx *badger.Txn, kbID core.ID) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialTaskKBKey(kbID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		taskID := memberID(iter.Item().Key())
		task, err := readTask(tx, makeTaskKey(taskID))
		if err != nil {
			return false, err
		}
		if task != nil && !task.State.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// forEachKBDocument visits every document of a knowledge base.
func forEachKBDocument(tx *badger.Txn, kbID core.ID, fn func(*core.Document) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialDocumentKBKey(kbID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		docID := memberID(iter.Item().Key())
		doc, err := readDocument(tx, makeDocumentKey(docID))
		if err != nil {
			return err
		}
		if doc == nil {
			continue
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// forEachKBChunk visits every chunk of a knowledge base.
func forEachKBChunk(tx *badger.Txn, kbID core.ID, fn func(*core.Chunk) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialChunkKBKey(kbID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		chunkID := memberID(iter.Item().Key())
		chunk, err := readChunk(tx, makeChunkKey(chunkID))
		if err != nil {
			return err
		}
		if chunk == nil {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}
