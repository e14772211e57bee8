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
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// TaskRepository implements storage.TaskRepository for BadgerDB.
// It also owns document creation: a document record and its first
// pending task are written in one transaction.
type TaskRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
	docSeq  *badger.Sequence
}

var _ storage.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(backend *Backend) (*TaskRepository, error) {
	idSeq, err := backend.GetSequence(taskIDSeq)
	if err != nil {
		return nil, err
	}
	docSeq, err := backend.GetSequence(docIDSeq)
	if err != nil {
		idSeq.Release()
		return nil, err
	}

	return &TaskRepository{
		backend: backend,
		idSeq:   idSeq,
		docSeq:  docSeq,
	}, nil
}

// Close releases the ID sequences.
func (r *TaskRepository) Close() error {
	err := r.idSeq.Release()
	if derr := r.docSeq.Release(); err == nil {
		err = derr
	}
	return err
}

// CreateTaskWithDocument persists a new document and its pending task
// in one transaction.
func (r *TaskRepository) CreateTaskWithDocument(ctx context.Context, doc *core.Document, task *core.IngestionTask) (*core.Document, *core.IngestionTask, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		docID, err := nextID(r.docSeq)
		if err != nil {
			return err
		}
		doc.Id = core.ID(docID)
		doc.CreatedAt = time.Now().UTC()
		doc.UpdatedAt = doc.CreatedAt

		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}
		kbKey := makeDocumentKBKey(doc.KBId, doc.Id)
		if err := tx.Set(kbKey, storage.MarshalID(doc.Id)); err != nil {
			return err
		}
		nameKey := makeDocumentNameKey(doc.KBId, doc.FileName)
		if err := tx.Set(nameKey, storage.MarshalID(doc.Id)); err != nil {
			return err
		}

		task.DocumentId = doc.Id
		task.KBId = doc.KBId
		if err := r.writeNewTask(tx, task); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, nil, err
	}
	return doc, task, nil
}

// CreateTask persists a pending task for an existing document.
func (r *TaskRepository) CreateTask(ctx context.Context, task *core.IngestionTask) (*core.IngestionTask, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, makeDocumentKey(task.DocumentId))
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		task.KBId = doc.KBId
		if err := r.writeNewTask(tx, task); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask retrieves a task by ID.
func (r *TaskRepository) GetTask(ctx context.Context, id core.ID) (*core.IngestionTask, error) {
	var result *core.IngestionTask
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readTask(tx, makeTaskKey(id))
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

// UpdateTask applies a state transition, enforcing the task state machine.
func (r *TaskRepository) UpdateTask(ctx context.Context, task *core.IngestionTask) (*core.IngestionTask, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := readTask(tx, makeTaskKey(task.Id))
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}
		if old.State != task.State {
			if err := core.ValidateTransition(old.State, task.State); err != nil {
				return err
			}
		}

		task.KBId = old.KBId
		task.DocumentId = old.DocumentId
		task.CreatedAt = old.CreatedAt
		task.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeTaskKey(task.Id), storage.MarshalTask(task)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return task, nil
}

// ActiveTaskForDocument returns the document's non-terminal task.
func (r *TaskRepository) ActiveTaskForDocument(ctx context.Context, docID core.ID) (*core.IngestionTask, error) {
	var result *core.IngestionTask
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialTaskDocKey(docID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			taskID := memberID(iter.Item().Key())
			task, err := readTask(tx, makeTaskKey(taskID))
			if err != nil {
				return err
			}
			if task != nil && !task.State.Terminal() {
				result = task
				return nil
			}
		}
		return storage.ErrNotFound
	}, false)
	return result, err
}

// HasActiveKBTasks reports whether the knowledge base has non-terminal tasks.
func (r *TaskRepository) HasActiveKBTasks(ctx context.Context, kbID core.ID) (bool, error) {
	var active bool
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		active, err = hasActiveTasks(tx, kbID)
		return err
	}, false)
	return active, err
}

// ListNonTerminal returns every pending or ingesting task in the store.
func (r *TaskRepository) ListNonTerminal(ctx context.Context) ([]*core.IngestionTask, error) {
	var results []*core.IngestionTask
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskRecordPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			// Skip the sequence key sharing the record prefix.
			if bytes.Equal(iter.Item().Key(), []byte(taskIDSeq)) {
				continue
			}
			var task *core.IngestionTask
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				task, unmarshalErr = storage.UnmarshalTask(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}
			if task != nil && !task.State.Terminal() {
				results = append(results, task)
			}
		}
		return nil
	}, false)
	return results, err
}

// LatestKBTask returns the most recently created task of a knowledge base.
// Task IDs are sequence-assigned, so the highest ID is the newest.
func (r *TaskRepository) LatestKBTask(ctx context.Context, kbID core.ID) (*core.IngestionTask, error) {
	var latest core.ID
	found := false

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialTaskKBKey(kbID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			latest = memberID(iter.Item().Key())
			found = true
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrNotFound
	}
	return r.GetTask(ctx, latest)
}

// writeNewTask assigns an ID, stamps a pending task, and writes its
// record plus index entries inside tx.
func (r *TaskRepository) writeNewTask(tx *badger.Txn, task *core.IngestionTask) error {
	id, err := nextID(r.idSeq)
	if err != nil {
		return err
	}
	task.Id = core.ID(id)
	task.State = core.TaskPending
	task.CreatedAt = time.Now().UTC()
	task.UpdatedAt = task.CreatedAt

	if err := tx.Set(makeTaskKey(task.Id), storage.MarshalTask(task)); err != nil {
		return err
	}
	kbKey := makeTaskKBKey(task.KBId, task.Id)
	if err := tx.Set(kbKey, storage.MarshalID(task.Id)); err != nil {
		return err
	}
	docKey := makeTaskDocKey(task.DocumentId, task.Id)
	return tx.Set(docKey, storage.MarshalID(task.Id))
}
