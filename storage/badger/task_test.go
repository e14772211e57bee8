package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

func taskTestSetup(t *testing.T) (*Repositories, *core.KnowledgeBase) {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	kb, err := repos.KBs.CreateKB(context.Background(), &core.KnowledgeBase{ProjectId: 1, Name: "docs"})
	require.NoError(t, err)
	return repos, kb
}

func TestTaskRepository_CreateTaskWithDocument(t *testing.T) {
	repos, kb := taskTestSetup(t)
	ctx := context.Background()

	doc := &core.Document{KBId: kb.Id, FileName: "guide.pdf", ContentHash: core.IDFromContent("bytes")}
	doc, task, err := repos.Tasks.CreateTaskWithDocument(ctx, doc, &core.IngestionTask{})
	require.NoError(t, err)

	assert.NotZero(t, doc.Id)
	assert.NotZero(t, task.Id)
	assert.Equal(t, doc.Id, task.DocumentId)
	assert.Equal(t, kb.Id, task.KBId)
	assert.Equal(t, core.TaskPending, task.State)

	// Both records are visible together.
	gotDoc, err := repos.Docs.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, "guide.pdf", gotDoc.FileName)

	gotTask, err := repos.Tasks.GetTask(ctx, task.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, gotTask.State)

	byName, err := repos.Docs.FindDocumentByName(ctx, kb.Id, "guide.pdf")
	require.NoError(t, err)
	assert.Equal(t, doc.Id, byName.Id)
}

func TestTaskRepository_CreateTaskForMissingDocument(t *testing.T) {
	repos, _ := taskTestSetup(t)

	_, err := repos.Tasks.CreateTask(context.Background(), &core.IngestionTask{DocumentId: 777})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTaskRepository_StateMachine(t *testing.T) {
	repos, kb := taskTestSetup(t)
	ctx := context.Background()

	doc := &core.Document{KBId: kb.Id, FileName: "a.txt", ContentHash: 1}
	_, task, err := repos.Tasks.CreateTaskWithDocument(ctx, doc, &core.IngestionTask{})
	require.NoError(t, err)

	task.State = core.TaskIngesting
	task, err = repos.Tasks.UpdateTask(ctx, task)
	require.NoError(t, err)

	task.State = core.TaskSucceeded
	task, err = repos.Tasks.UpdateTask(ctx, task)
	require.NoError(t, err)

	// Terminal states admit no further transitions.
	task.State = core.TaskIngesting
	_, err = repos.Tasks.UpdateTask(ctx, task)
	assert.ErrorIs(t, err, core.ErrInvalidTaskState)
}

func TestTaskRepository_ActiveTaskForDocument(t *testing.T) {
	repos, kb := taskTestSetup(t)
	ctx := context.Background()

	doc := &core.Document{KBId: kb.Id, FileName: "a.txt", ContentHash: 1}
	doc, task, err := repos.Tasks.CreateTaskWithDocument(ctx, doc, &core.IngestionTask{})
	require.NoError(t, err)

	active, err := repos.Tasks.ActiveTaskForDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, task.Id, active.Id)

	task.State = core.TaskFailed
	task.ErrorDetail = "EmbeddingError: budget exhausted"
	_, err = repos.Tasks.UpdateTask(ctx, task)
	require.NoError(t, err)

	_, err = repos.Tasks.ActiveTaskForDocument(ctx, doc.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A failed document accepts a new task.
	fresh, err := repos.Tasks.CreateTask(ctx, &core.IngestionTask{DocumentId: doc.Id})
	require.NoError(t, err)
	active, err = repos.Tasks.ActiveTaskForDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, fresh.Id, active.Id)
}

func TestTaskRepository_ListNonTerminal(t *testing.T) {
	repos, kb := taskTestSetup(t)
	ctx := context.Background()

	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		doc := &core.Document{KBId: kb.Id, FileName: name, ContentHash: core.ID(i + 1)}
		_, task, err := repos.Tasks.CreateTaskWithDocument(ctx, doc, &core.IngestionTask{})
		require.NoError(t, err)
		if i == 0 {
			task.State = core.TaskSucceeded
			_, err = repos.Tasks.UpdateTask(ctx, task)
			require.NoError(t, err)
		}
	}

	open, err := repos.Tasks.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
	for _, task := range open {
		assert.False(t, task.State.Terminal())
	}
}

func TestTaskRepository_LatestKBTask(t *testing.T) {
	repos, kb := taskTestSetup(t)
	ctx := context.Background()

	_, err := repos.Tasks.LatestKBTask(ctx, kb.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var last *core.IngestionTask
	for i, name := range []string{"a.txt", "b.txt"} {
		doc := &core.Document{KBId: kb.Id, FileName: name, ContentHash: core.ID(i + 1)}
		_, task, err := repos.Tasks.CreateTaskWithDocument(ctx, doc, &core.IngestionTask{})
		require.NoError(t, err)
		task.State = core.TaskSucceeded
		last, err = repos.Tasks.UpdateTask(ctx, task)
		require.NoError(t, err)
	}

	latest, err := repos.Tasks.LatestKBTask(ctx, kb.Id)
	require.NoError(t, err)
	assert.Equal(t, last.Id, latest.Id)
}
