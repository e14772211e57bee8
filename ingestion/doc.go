// Package ingestion provides the asynchronous document ingestion workflow.
//
// The Orchestrator accepts uploaded files, records a pending task for
// each, and drives the pipeline on a worker pool:
//   - parse the file into text segments
//   - embed the segments in batches, with retries
//   - tokenize each segment for the lexical index
//   - commit chunks, vectors, and postings in one transaction
//
// Task state is the only progress channel: callers poll the task ledger
// rather than waiting on the pipeline. Failures are recorded on the
// task with a classified error detail (ParseError, EmbeddingError,
// IndexWriteError, IngestInterrupted).
package ingestion
