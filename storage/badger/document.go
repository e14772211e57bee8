package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
// Document creation happens through the task ledger (see TaskRepository),
// which writes the document and its pending task in one transaction.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	return &DocumentRepository{backend: backend}, nil
}

// Close is a no-op; the repository holds no sequence.
func (r *DocumentRepository) Close() error {
	return nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, makeDocumentKey(id))
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

// ListDocuments returns the non-deleted documents of a knowledge base.
func (r *DocumentRepository) ListDocuments(ctx context.Context, kbID core.ID) ([]*core.Document, error) {
	var results []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return forEachKBDocument(tx, kbID, func(doc *core.Document) error {
			if !doc.Deleted {
				results = append(results, doc)
			}
			return nil
		})
	}, false)
	return results, err
}

// FindDocumentByName finds a knowledge base's non-deleted document by file name.
func (r *DocumentRepository) FindDocumentByName(ctx context.Context, kbID core.ID, fileName string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeDocumentNameKey(kbID, fileName))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		docID, err := readIndexedID(item)
		if err != nil {
			return err
		}
		result, err = readDocument(tx, makeDocumentKey(docID))
		if err != nil {
			return err
		}
		if result == nil || result.Deleted {
			result = nil
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// UpdateDocument rewrites an existing document record.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := readDocument(tx, makeDocumentKey(doc.Id))
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}

		doc.CreatedAt = old.CreatedAt
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}

		// Keep the name lookup in step with renames.
		if old.FileName != doc.FileName {
			if err := tx.Delete(makeDocumentNameKey(old.KBId, old.FileName)); err != nil {
				return err
			}
			nameKey := makeDocumentNameKey(doc.KBId, doc.FileName)
			if err := tx.Set(nameKey, storage.MarshalID(doc.Id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return doc, nil
}
