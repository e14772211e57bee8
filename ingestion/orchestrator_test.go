package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/ai/mock"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/loader"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/storage/badger"
)

func testOrchestrator(t *testing.T, embedder ai.Embedder, opts ...Option) (*Orchestrator, *badger.Repositories) {
	t.Helper()

	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	if embedder == nil {
		embedder = mock.NewMockEmbedder()
	}
	opts = append([]Option{WithRetryPolicy(2, time.Millisecond)}, opts...)
	o, err := NewOrchestrator(repos.KBs, repos.Docs, repos.Chunks, repos.Tasks, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(o.Release)

	return o, repos
}

func createKB(t *testing.T, repos *badger.Repositories) *core.KnowledgeBase {
	t.Helper()
	kb, err := repos.KBs.CreateKB(context.Background(), &core.KnowledgeBase{ProjectId: 1, Name: "docs"})
	require.NoError(t, err)
	return kb
}

func TestSubmit_IngestsTextFile(t *testing.T) {
	o, repos := testOrchestrator(t, nil)
	kb := createKB(t, repos)
	ctx := context.Background()

	task, err := o.Submit(ctx, kb.Id, "notes.txt", []byte("badger stores keys in sorted order"))
	require.NoError(t, err)
	require.NotZero(t, task.Id)

	o.Wait()

	done, err := repos.Tasks.GetTask(ctx, task.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskSucceeded, done.State)
	assert.Empty(t, done.ErrorDetail)

	// Chunks are queryable through both indexes.
	count, err := repos.Chunks.CountChunks(ctx, kb.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	matches, err := repos.Chunks.QueryText(ctx, kb.Id, "badger sorted", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestSubmit_RejectsUnsupportedFormat(t *testing.T) {
	o, repos := testOrchestrator(t, nil)
	kb := createKB(t, repos)

	_, err := o.Submit(context.Background(), kb.Id, "report.docx", []byte("content"))
	assert.ErrorIs(t, err, loader.ErrUnsupportedFormat)

	// No task was recorded.
	_, err = repos.Tasks.LatestKBTask(context.Background(), kb.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubmit_RejectsDeletedKB(t *testing.T) {
	o, repos := testOrchestrator(t, nil)
	kb := createKB(t, repos)
	ctx := context.Background()

	// Ingest a document first so the resubmit path is reachable too.
	task, err := o.Submit(ctx, kb.Id, "a.txt", []byte("some indexed text"))
	require.NoError(t, err)
	o.Wait()

	require.NoError(t, repos.KBs.SoftDeleteKB(ctx, kb.Id))

	// A deleted knowledge base falls in the not-found class.
	_, err = o.Submit(ctx, kb.Id, "b.txt", []byte("text"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = o.Resubmit(ctx, task.DocumentId, []byte("text"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubmit_RejectsQAKB(t *testing.T) {
	o, repos := testOrchestrator(t, nil)
	ctx := context.Background()

	qakb, err := repos.KBs.GetOrCreateQAKB(ctx, 1)
	require.NoError(t, err)

	_, err = o.Submit(ctx, qakb.Id, "a.txt", []byte("text"))
	assert.ErrorIs(t, err, core.ErrQAKBProtected)
}

func TestSubmit_ParseFailureRecordedOnTask(t *testing.T) {
	o, repos := testOrchestrator(t, nil)
	kb := createKB(t, repos)
	ctx := context.Background()

	task, err := o.Submit(ctx, kb.Id, "empty.txt", []byte("   "))
	require.NoError(t, err)

	o.Wait()

	done, err := repos.Tasks.GetTask(ctx, task.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, done.State)
	assert.Contains(t, done.ErrorDetail, "ParseError:")

	// Nothing was indexed.
	count, err := repos.Chunks.CountChunks(ctx, kb.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmit_EmbeddingFailureAfterRetries(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, ai.ErrRateLimited
	}

	o, repos := testOrchestrator(t, embedder)
	kb := createKB(t, repos)
	ctx := context.Background()

	task, err := o.Submit(ctx, kb.Id, "a.txt", []byte("some text to embed"))
	require.NoError(t, err)

	o.Wait()

	done, err := repos.Tasks.GetTask(ctx, task.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, done.State)
	assert.Contains(t, done.ErrorDetail, "EmbeddingError:")

	count, err := repos.Chunks.CountChunks(ctx, kb.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmit_EmbeddingRecoversWithinBudget(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	failures := 1
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if failures > 0 {
			failures--
			return nil, ai.ErrRateLimited
		}
		embedder.EmbedTextsFunc = nil
		return embedder.EmbedTexts(ctx, texts)
	}

	o, repos := testOrchestrator(t, embedder)
	kb := createKB(t, repos)
	ctx := context.Background()

	task, err := o.Submit(ctx, kb.Id, "a.txt", []byte("eventually embedded"))
	require.NoError(t, err)

	o.Wait()

	done, err := repos.Tasks.GetTask(ctx, task.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskSucceeded, done.State)
}

func TestSubmit_VectorCountMismatch(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil // always one vector
	}

	o, repos := testOrchestrator(t, embedder, WithEmbedBatchSize(2), WithLoader(loader.New(loader.WithChunkSize(40), loader.WithChunkOverlap(0))))
	kb := createKB(t, repos)
	ctx := context.Background()

	long := "many words repeated to force several segments out of the splitter, " +
		"many words repeated to force several segments out of the splitter"
	task, err := o.Submit(ctx, kb.Id, "a.txt", []byte(long))
	require.NoError(t, err)

	o.Wait()

	done, err := repos.Tasks.GetTask(ctx, task.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, done.State)
	assert.Contains(t, done.ErrorDetail, "EmbeddingError:")
}

func TestResubmit_ReplacesChunks(t *testing.T) {
	o, repos := testOrchestrator(t, nil)
	kb := createKB(t, repos)
	ctx := context.Background()

	task, err := o.Submit(ctx, kb.Id, "a.txt", []byte("original wording here"))
	require.NoError(t, err)
	o.Wait()

	done, err := repos.Tasks.GetTask(ctx, task.Id)
	require.NoError(t, err)
	require.Equal(t, core.TaskSucceeded, done.State)

	task2, err := o.Resubmit(ctx, done.DocumentId, []byte("replacement wording instead"))
	require.NoError(t, err)
	o.Wait()

	done2, err := repos.Tasks.GetTask(ctx, task2.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskSucceeded, done2.State)

	stale, err := repos.Chunks.QueryText(ctx, kb.Id, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	fresh, err := repos.Chunks.QueryText(ctx, kb.Id, "replacement", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh)

	count, err := repos.Chunks.CountChunks(ctx, kb.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResubmit_ConcurrentGuard(t *testing.T) {
	blocker := make(chan struct{})
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-blocker
		embedder.EmbedTextsFunc = nil
		return embedder.EmbedTexts(ctx, texts)
	}

	o, repos := testOrchestrator(t, embedder)
	kb := createKB(t, repos)
	ctx := context.Background()

	task, err := o.Submit(ctx, kb.Id, "a.txt", []byte("slow ingestion"))
	require.NoError(t, err)

	_, err = o.Resubmit(ctx, task.DocumentId, []byte("too early"))
	assert.ErrorIs(t, err, core.ErrConcurrentIngestion)

	close(blocker)
	o.Wait()

	_, err = o.Resubmit(ctx, task.DocumentId, []byte("fine now"))
	assert.NoError(t, err)
	o.Wait()
}

func TestResubmit_ConcurrentRejectedExactlyOnce(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	o, repos := testOrchestrator(t, embedder)
	kb := createKB(t, repos)
	ctx := context.Background()

	task, err := o.Submit(ctx, kb.Id, "a.txt", []byte("initial wording"))
	require.NoError(t, err)
	o.Wait()

	for round := 0; round < 50; round++ {
		gate := make(chan struct{})
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			<-gate
			vectors := make([][]float32, len(texts))
			for i := range vectors {
				vectors[i] = []float32{1, 0}
			}
			return vectors, nil
		}

		start := make(chan struct{})
		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				<-start
				_, err := o.Resubmit(ctx, task.DocumentId, []byte("racing wording"))
				errs <- err
			}()
		}
		close(start)

		rejected := 0
		for i := 0; i < 2; i++ {
			err := <-errs
			if err != nil {
				require.ErrorIs(t, err, core.ErrConcurrentIngestion)
				rejected++
			}
		}
		require.Equal(t, 1, rejected, "round %d: exactly one resubmit must lose", round)

		close(gate)
		o.Wait()
	}
}

func TestRecoverOrphans(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	kb, err := repos.KBs.CreateKB(ctx, &core.KnowledgeBase{ProjectId: 1, Name: "docs"})
	require.NoError(t, err)

	// Simulate a crash: a task stuck in ingesting with no worker.
	doc := &core.Document{KBId: kb.Id, FileName: "a.txt", ContentHash: 1}
	_, stuck, err := repos.Tasks.CreateTaskWithDocument(ctx, doc, &core.IngestionTask{})
	require.NoError(t, err)
	stuck.State = core.TaskIngesting
	_, err = repos.Tasks.UpdateTask(ctx, stuck)
	require.NoError(t, err)

	o, err := NewOrchestrator(repos.KBs, repos.Docs, repos.Chunks, repos.Tasks, mock.NewMockEmbedder())
	require.NoError(t, err)
	defer o.Release()

	recovered, err := repos.Tasks.GetTask(ctx, stuck.Id)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, recovered.State)
	assert.Contains(t, recovered.ErrorDetail, "IngestInterrupted:")
}
