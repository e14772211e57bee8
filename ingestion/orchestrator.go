package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/loader"
	"github.com/poiesic/kbase/storage"
)

const (
	defaultEmbedBatchSize = 10
	defaultMaxAttempts    = 5
	defaultBaseDelay      = 500 * time.Millisecond
)

// Orchestrator runs the document ingestion workflow: a submitted file
// becomes a pending task immediately, and a worker drives it through
// parse, embed, tokenize, and a single-transaction index commit.
type Orchestrator struct {
	kbs      storage.KBRepository
	docs     storage.DocumentRepository
	chunks   storage.ChunkRepository
	tasks    storage.TaskRepository
	embedder ai.Embedder
	loader   *loader.Loader
	pool     *ants.Pool
	logger   *slog.Logger

	embedBatchSize int
	maxAttempts    int
	baseDelay      time.Duration

	mu       sync.Mutex
	inflight map[core.ID]bool // document IDs with a running worker
	wg       sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithPoolSize sets the worker pool size for concurrent ingestion.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		if o.pool != nil {
			o.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		o.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithLoader sets a custom loader.
func WithLoader(l *loader.Loader) Option {
	return func(o *Orchestrator) error {
		if l != nil {
			o.loader = l
		}
		return nil
	}
}

// WithEmbedBatchSize sets how many segments go to the embedder per call.
func WithEmbedBatchSize(size int) Option {
	return func(o *Orchestrator) error {
		if size > 0 {
			o.embedBatchSize = size
		}
		return nil
	}
}

// WithRetryPolicy sets the embedding retry budget.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		o.maxAttempts = maxAttempts
		o.baseDelay = baseDelay
		return nil
	}
}

// NewOrchestrator creates an ingestion orchestrator. Tasks left
// non-terminal by an earlier run are marked failed before any new work
// is accepted.
func NewOrchestrator(
	kbs storage.KBRepository,
	docs storage.DocumentRepository,
	chunks storage.ChunkRepository,
	tasks storage.TaskRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Orchestrator, error) {
	if kbs == nil {
		return nil, ErrKBRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if tasks == nil {
		return nil, ErrTaskRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		kbs:            kbs,
		docs:           docs,
		chunks:         chunks,
		tasks:          tasks,
		embedder:       embedder,
		loader:         loader.New(),
		pool:           pool,
		logger:         slog.Default().With("component", "ingestion"),
		embedBatchSize: defaultEmbedBatchSize,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		inflight:       make(map[core.ID]bool),
	}

	for _, opt := range opts {
		if optErr := opt(o); optErr != nil {
			o.Release()
			return nil, optErr
		}
	}

	if err := o.RecoverOrphans(context.Background()); err != nil {
		o.Release()
		return nil, err
	}

	return o, nil
}

// Submit registers an uploaded file for ingestion. The document record
// and its pending task are created synchronously in one transaction;
// the pipeline itself runs on the worker pool. Unsupported formats are
// rejected before any record is written.
func (o *Orchestrator) Submit(ctx context.Context, kbID core.ID, fileName string, data []byte) (*core.IngestionTask, error) {
	if !loader.Supported(fileName) {
		return nil, fmt.Errorf("%w: %s", loader.ErrUnsupportedFormat, fileName)
	}

	kb, err := o.kbs.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.Deleted {
		return nil, fmt.Errorf("%w: knowledge base %d is deleted", storage.ErrNotFound, kb.Id)
	}
	if kb.QAOnly {
		return nil, core.ErrQAKBProtected
	}

	doc := &core.Document{
		KBId:        kbID,
		FileName:    fileName,
		ContentHash: core.IDFromBytes(data),
	}
	doc, task, err := o.tasks.CreateTaskWithDocument(ctx, doc, &core.IngestionTask{})
	if err != nil {
		return nil, err
	}

	o.logger.Info("ingestion submitted",
		"task", task.Id, "kb", kbID, "document", doc.Id, "file", fileName, "bytes", len(data))

	o.dispatch(task, doc, data, false)
	return task, nil
}

// Resubmit re-ingests new content for an existing document. The
// document's previous chunks are replaced atomically when the new run
// commits. Returns core.ErrConcurrentIngestion while an earlier task
// for the document is still pending or running.
func (o *Orchestrator) Resubmit(ctx context.Context, docID core.ID, data []byte) (*core.IngestionTask, error) {
	doc, err := o.docs.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, storage.ErrNotFound
	}

	kb, err := o.kbs.GetKB(ctx, doc.KBId)
	if err != nil {
		return nil, err
	}
	if kb.Deleted {
		return nil, fmt.Errorf("%w: knowledge base %d is deleted", storage.ErrNotFound, kb.Id)
	}

	// Reserve the document before checking the ledger so two concurrent
	// resubmits cannot both pass the checks and both create a task.
	if !o.reserveInflight(docID) {
		return nil, core.ErrConcurrentIngestion
	}
	reserved := true
	defer func() {
		if reserved {
			o.setInflight(docID, false)
		}
	}()

	if _, err := o.tasks.ActiveTaskForDocument(ctx, docID); err == nil {
		return nil, core.ErrConcurrentIngestion
	} else if err != storage.ErrNotFound {
		return nil, err
	}

	doc.ContentHash = core.IDFromBytes(data)
	if _, err := o.docs.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	task, err := o.tasks.CreateTask(ctx, &core.IngestionTask{DocumentId: docID})
	if err != nil {
		return nil, err
	}

	o.logger.Info("re-ingestion submitted", "task", task.Id, "document", docID, "bytes", len(data))

	reserved = false
	o.dispatch(task, doc, data, true)
	return task, nil
}

// RecoverOrphans marks every non-terminal task failed. Called at
// startup: a pending or ingesting task with no worker behind it can
// never finish on its own.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) error {
	orphans, err := o.tasks.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, task := range orphans {
		if o.isInflight(task.DocumentId) {
			continue
		}
		task.State = core.TaskFailed
		task.ErrorDetail = "IngestInterrupted: service stopped before the task finished"
		if _, err := o.tasks.UpdateTask(ctx, task); err != nil {
			return err
		}
		o.logger.Warn("orphaned task marked failed", "task", task.Id, "document", task.DocumentId)
	}
	return nil
}

// Wait blocks until every dispatched pipeline has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Release waits for running pipelines and frees the worker pool.
// The orchestrator should not be used after calling Release.
func (o *Orchestrator) Release() {
	o.wg.Wait()
	if o.pool != nil {
		o.pool.Release()
	}
}

// dispatch hands a task to the worker pool, marking the document
// in-flight for the duration of the run.
func (o *Orchestrator) dispatch(task *core.IngestionTask, doc *core.Document, data []byte, replace bool) {
	o.setInflight(doc.Id, true)
	o.wg.Add(1)

	err := o.pool.Submit(func() {
		defer o.wg.Done()
		defer o.setInflight(doc.Id, false)
		o.run(context.Background(), task, doc, data, replace)
	})
	if err != nil {
		o.wg.Done()
		o.setInflight(doc.Id, false)
		o.failTask(context.Background(), task, "IndexWriteError: worker pool rejected task: "+err.Error())
	}
}

// run drives one task through the pipeline. Failures land in the task
// ledger; nothing is returned because no caller is waiting.
func (o *Orchestrator) run(ctx context.Context, task *core.IngestionTask, doc *core.Document, data []byte, replace bool) {
	task.State = core.TaskIngesting
	task, err := o.tasks.UpdateTask(ctx, task)
	if err != nil {
		o.logger.Error("cannot mark task ingesting", "task", task.Id, "err", err)
		return
	}

	segments, err := o.loader.Parse(doc.FileName, data)
	if err != nil {
		o.failTask(ctx, task, "ParseError: "+err.Error())
		return
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	vectors, err := o.embedAll(ctx, texts)
	if err != nil {
		o.failTask(ctx, task, "EmbeddingError: "+err.Error())
		return
	}

	chunks := make([]*core.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = &core.Chunk{
			KBId:       doc.KBId,
			DocumentId: doc.Id,
			Ordinal:    i,
			Offset:     seg.Offset,
			Text:       seg.Text,
			Vector:     vectors[i],
			Tokens:     core.Tokenize(seg.Text),
		}
	}

	if replace {
		_, err = o.chunks.ReplaceDocumentChunks(ctx, doc.Id, chunks)
	} else {
		_, err = o.chunks.AddChunks(ctx, chunks...)
	}
	if err != nil {
		o.failTask(ctx, task, "IndexWriteError: "+err.Error())
		return
	}

	task.State = core.TaskSucceeded
	if _, err := o.tasks.UpdateTask(ctx, task); err != nil {
		o.logger.Error("cannot mark task succeeded", "task", task.Id, "err", err)
		return
	}
	o.logger.Info("ingestion succeeded", "task", task.Id, "document", doc.Id, "chunks", len(chunks))
}

// embedAll embeds texts in batches with retries. A batch whose result
// count disagrees with its input count fails the task; silently
// misaligned vectors would corrupt the index.
func (o *Orchestrator) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.embedBatchSize {
		end := start + o.embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var batchVectors [][]float32
		err := RetryWithBackoff(ctx, func() error {
			var embedErr error
			batchVectors, embedErr = o.embedder.EmbedTexts(ctx, batch)
			return embedErr
		}, o.maxAttempts, o.baseDelay)
		if err != nil {
			return nil, err
		}
		if len(batchVectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batchVectors), len(batch))
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

// failTask records a terminal failure with its error detail.
func (o *Orchestrator) failTask(ctx context.Context, task *core.IngestionTask, detail string) {
	task.State = core.TaskFailed
	task.ErrorDetail = detail
	if _, err := o.tasks.UpdateTask(ctx, task); err != nil {
		o.logger.Error("cannot mark task failed", "task", task.Id, "err", err)
		return
	}
	o.logger.Warn("ingestion failed", "task", task.Id, "detail", detail)
}

func (o *Orchestrator) isInflight(docID core.ID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[docID]
}

// reserveInflight marks a document in-flight, reporting whether the
// caller won the reservation.
func (o *Orchestrator) reserveInflight(docID core.ID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[docID] {
		return false
	}
	o.inflight[docID] = true
	return true
}

func (o *Orchestrator) setInflight(docID core.ID, v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v {
		o.inflight[docID] = true
	} else {
		delete(o.inflight, docID)
	}
}
