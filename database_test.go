package kbase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/kbase/ai/mock"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := NewDatabase("", WithInMemory(), WithEmbedder(mock.NewMockEmbedder()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestDatabase_IngestAndRetrieve(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	kb, err := db.CreateKnowledgeBase(ctx, 1, "docs")
	require.NoError(t, err)

	o, err := db.NewOrchestrator()
	require.NoError(t, err)
	defer o.Release()

	task, err := o.Submit(ctx, kb.Id, "notes.txt", []byte("value log entries are replayed on open"))
	require.NoError(t, err)
	o.Wait()

	done, err := db.TaskStatus(ctx, task.Id)
	require.NoError(t, err)
	require.Equal(t, core.TaskSucceeded, done.State)

	r, err := db.NewRetriever()
	require.NoError(t, err)

	result, err := r.Retrieve(ctx, kb.Id, "value log replay", 5, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Merged)
}

func TestDatabase_ListKnowledgeBases(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	kb, err := db.CreateKnowledgeBase(ctx, 1, "docs")
	require.NoError(t, err)
	_, err = db.CreateKnowledgeBase(ctx, 1, "wiki")
	require.NoError(t, err)

	o, err := db.NewOrchestrator()
	require.NoError(t, err)
	defer o.Release()

	_, err = o.Submit(ctx, kb.Id, "a.txt", []byte("short note"))
	require.NoError(t, err)
	o.Wait()

	infos, err := db.ListKnowledgeBases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "docs", infos[0].Name)
	assert.Equal(t, 1, infos[0].DocumentCount)
	assert.Equal(t, 1, infos[0].ChunkCount)
	require.NotNil(t, infos[0].LastTask)
	assert.Equal(t, core.TaskSucceeded, infos[0].LastTask.State)

	assert.Equal(t, "wiki", infos[1].Name)
	assert.Zero(t, infos[1].DocumentCount)
	assert.Zero(t, infos[1].ChunkCount)
	assert.Nil(t, infos[1].LastTask)
}

func TestDatabase_DeleteAndRestore(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	kb, err := db.CreateKnowledgeBase(ctx, 1, "docs")
	require.NoError(t, err)

	o, err := db.NewOrchestrator()
	require.NoError(t, err)
	defer o.Release()

	_, err = o.Submit(ctx, kb.Id, "a.txt", []byte("restorable content"))
	require.NoError(t, err)
	o.Wait()

	require.NoError(t, db.DeleteKnowledgeBase(ctx, kb.Id))

	infos, err := db.ListKnowledgeBases(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, infos)

	r, err := db.NewRetriever()
	require.NoError(t, err)
	_, err = r.Retrieve(ctx, kb.Id, "restorable", 5, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, db.RestoreKnowledgeBase(ctx, kb.Id))

	result, err := r.Retrieve(ctx, kb.Id, "restorable content", 5, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Lexical)
}

func TestDatabase_QAStore(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	s, err := db.NewQAStore()
	require.NoError(t, err)

	item, err := s.Add(ctx, 1, "Is the QA store wired through?", "Yes.")
	require.NoError(t, err)

	r, err := db.NewRetriever()
	require.NoError(t, err)

	result, err := r.Retrieve(ctx, item.KBId, "qa store wired", 5, 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Lexical)
	assert.Equal(t, item.ChunkId, result.Lexical[0].Chunk.Id)
}
