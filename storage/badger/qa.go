package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// QARepository implements storage.QARepository for BadgerDB.
// Every QA item owns exactly one index chunk; item and chunk writes
// share a transaction so the pair stays consistent.
type QARepository struct {
	backend  *Backend
	idSeq    *badger.Sequence
	chunkSeq *badger.Sequence
}

var _ storage.QARepository = (*QARepository)(nil)

// NewQARepository creates a new QARepository.
func NewQARepository(backend *Backend) (*QARepository, error) {
	idSeq, err := backend.GetSequence(qaIDSeq)
	if err != nil {
		return nil, err
	}
	chunkSeq, err := backend.GetSequence(chunkIDSeq)
	if err != nil {
		idSeq.Release()
		return nil, err
	}

	return &QARepository{
		backend:  backend,
		idSeq:    idSeq,
		chunkSeq: chunkSeq,
	}, nil
}

// Close releases the ID sequences.
func (r *QARepository) Close() error {
	err := r.idSeq.Release()
	if cerr := r.chunkSeq.Release(); err == nil {
		err = cerr
	}
	return err
}

// AddQA persists a QA item with its index chunk. The duplicate check
// runs inside the transaction so two concurrent adds of the same
// question cannot both land.
func (r *QARepository) AddQA(ctx context.Context, item *core.QAItem, chunk *core.Chunk) (*core.QAItem, error) {
	if err := core.ValidateQAItem(item); err != nil {
		return nil, err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		dup, err := r.liveItemByHash(tx, item.ProjectId, item.QuestionHash)
		if err != nil {
			return err
		}
		if dup != nil {
			return core.ErrDuplicateQA
		}

		id, err := nextID(r.idSeq)
		if err != nil {
			return err
		}
		item.Id = core.ID(id)
		item.CreatedAt = time.Now().UTC()
		item.UpdatedAt = item.CreatedAt

		if err := writeChunk(tx, r.chunkSeq, chunk); err != nil {
			return err
		}
		item.ChunkId = chunk.Id

		if err := tx.Set(makeQAKey(item.Id), storage.MarshalQAItem(item)); err != nil {
			return err
		}
		kbKey := makeQAKBKey(item.KBId, item.Id)
		if err := tx.Set(kbKey, storage.MarshalID(item.Id)); err != nil {
			return err
		}
		hashKey := makeQAHashKey(item.ProjectId, item.QuestionHash)
		if err := tx.Set(hashKey, storage.MarshalID(item.Id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateQA rewrites a QA item and its index chunk. When the question
// hash changed, the old hash entry is released and the new one checked
// for collisions in the same transaction.
func (r *QARepository) UpdateQA(ctx context.Context, item *core.QAItem, chunk *core.Chunk) (*core.QAItem, error) {
	if err := core.ValidateQAItem(item); err != nil {
		return nil, err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := readQAItem(tx, makeQAKey(item.Id))
		if err != nil {
			return err
		}
		if old == nil || old.Deleted {
			return storage.ErrNotFound
		}

		if old.QuestionHash != item.QuestionHash {
			dup, err := r.liveItemByHash(tx, item.ProjectId, item.QuestionHash)
			if err != nil {
				return err
			}
			if dup != nil && dup.Id != item.Id {
				return core.ErrDuplicateQA
			}
			oldHashKey := makeQAHashKey(old.ProjectId, old.QuestionHash)
			if err := tx.Delete(oldHashKey); err != nil {
				return err
			}
			newHashKey := makeQAHashKey(item.ProjectId, item.QuestionHash)
			if err := tx.Set(newHashKey, storage.MarshalID(item.Id)); err != nil {
				return err
			}
		}

		// Rewrite the index chunk in place under its existing ID.
		oldChunk, err := readChunk(tx, makeChunkKey(old.ChunkId))
		if err != nil {
			return err
		}
		if oldChunk != nil {
			if err := deletePostings(tx, oldChunk); err != nil {
				return err
			}
		}
		chunk.Id = old.ChunkId
		if err := writeChunk(tx, r.chunkSeq, chunk); err != nil {
			return err
		}

		item.ChunkId = old.ChunkId
		item.CreatedAt = old.CreatedAt
		item.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeQAKey(item.Id), storage.MarshalQAItem(item)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetQA retrieves a QA item by ID.
func (r *QARepository) GetQA(ctx context.Context, id core.ID) (*core.QAItem, error) {
	var result *core.QAItem
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readQAItem(tx, makeQAKey(id))
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

// SoftDeleteQA marks QA items and their index chunks deleted, freeing
// the question hashes. Returns the number of items actually deleted.
func (r *QARepository) SoftDeleteQA(ctx context.Context, ids ...core.ID) (int, error) {
	deleted := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, id := range ids {
			item, err := readQAItem(tx, makeQAKey(id))
			if err != nil {
				return err
			}
			if item == nil || item.Deleted {
				continue
			}

			if err := tx.Delete(makeQAHashKey(item.ProjectId, item.QuestionHash)); err != nil {
				return err
			}

			chunk, err := readChunk(tx, makeChunkKey(item.ChunkId))
			if err != nil {
				return err
			}
			if chunk != nil && !chunk.Deleted {
				if err := deletePostings(tx, chunk); err != nil {
					return err
				}
				chunk.Deleted = true
				chunk.UpdatedAt = now
				if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
					return err
				}
			}

			item.Deleted = true
			item.UpdatedAt = now
			if err := tx.Set(makeQAKey(item.Id), storage.MarshalQAItem(item)); err != nil {
				return err
			}
			deleted++
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ListQA returns one page of a knowledge base's non-deleted QA items
// plus the total non-deleted count. Pages are 1-based.
func (r *QARepository) ListQA(ctx context.Context, kbID core.ID, page, pageSize int) ([]*core.QAItem, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, storage.ErrInvalidQuery
	}

	var items []*core.QAItem
	total := 0
	skip := (page - 1) * pageSize

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialQAKBKey(kbID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			qaID := memberID(iter.Item().Key())
			item, err := readQAItem(tx, makeQAKey(qaID))
			if err != nil {
				return err
			}
			if item == nil || item.Deleted {
				continue
			}
			if total >= skip && len(items) < pageSize {
				items = append(items, item)
			}
			total++
		}
		return nil
	}, false)

	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// FindQAByHash finds a project's non-deleted QA item by question hash.
func (r *QARepository) FindQAByHash(ctx context.Context, projectID core.ID, hash core.ID) (*core.QAItem, error) {
	var result *core.QAItem
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.liveItemByHash(tx, projectID, hash)
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

// liveItemByHash resolves a question hash to its non-deleted item, or nil.
func (r *QARepository) liveItemByHash(tx *badger.Txn, projectID, hash core.ID) (*core.QAItem, error) {
	hashItem, err := tx.Get(makeQAHashKey(projectID, hash))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	qaID, err := readIndexedID(hashItem)
	if err != nil {
		return nil, err
	}
	item, err := readQAItem(tx, makeQAKey(qaID))
	if err != nil {
		return nil, err
	}
	if item == nil || item.Deleted {
		return nil, nil
	}
	return item, nil
}
