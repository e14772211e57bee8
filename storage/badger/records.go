package badger

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// Read helpers shared across the repositories. They return (nil, nil)
// for missing keys so callers decide whether absence is an error.

func readKB(tx *badger.Txn, key []byte) (*core.KnowledgeBase, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var kb *core.KnowledgeBase
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		kb, unmarshalErr = storage.UnmarshalKB(val)
		return unmarshalErr
	})
	return kb, err
}

func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		doc, unmarshalErr = storage.UnmarshalDocument(val)
		return unmarshalErr
	})
	return doc, err
}

func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		chunk, unmarshalErr = storage.UnmarshalChunk(val)
		return unmarshalErr
	})
	return chunk, err
}

func readQAItem(tx *badger.Txn, key []byte) (*core.QAItem, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var qa *core.QAItem
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		qa, unmarshalErr = storage.UnmarshalQAItem(val)
		return unmarshalErr
	})
	return qa, err
}

func readTask(tx *badger.Txn, key []byte) (*core.IngestionTask, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var task *core.IngestionTask
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		task, unmarshalErr = storage.UnmarshalTask(val)
		return unmarshalErr
	})
	return task, err
}

// readIndexedID reads the ID stored as an index entry's value.
func readIndexedID(item *badger.Item) (core.ID, error) {
	var id core.ID
	err := item.Value(func(val []byte) error {
		var unmarshalErr error
		id, unmarshalErr = storage.UnmarshalID(val)
		return unmarshalErr
	})
	return id, err
}

// memberID extracts the trailing BigEndian ID from a composite index key.
func memberID(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// tokenCounts folds a chunk's token stream into term frequencies.
func tokenCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	return counts
}

// writePostings writes a chunk's lexical postings and its length entry.
// The length entry is written even for token-less chunks so that the
// per-KB chunk statistics stay complete.
func writePostings(tx *badger.Txn, chunk *core.Chunk) error {
	for token, tf := range tokenCounts(chunk.Tokens) {
		key := makePostingKey(chunk.KBId, token, chunk.Id)
		if err := tx.Set(key, storage.MarshalID(core.ID(tf))); err != nil {
			return err
		}
	}
	lenKey := makeChunkLengthKey(chunk.KBId, chunk.Id)
	return tx.Set(lenKey, storage.MarshalID(core.ID(len(chunk.Tokens))))
}

// deletePostings removes a chunk's lexical postings and its length entry.
func deletePostings(tx *badger.Txn, chunk *core.Chunk) error {
	for token := range tokenCounts(chunk.Tokens) {
		if err := tx.Delete(makePostingKey(chunk.KBId, token, chunk.Id)); err != nil {
			return err
		}
	}
	return tx.Delete(makeChunkLengthKey(chunk.KBId, chunk.Id))
}
