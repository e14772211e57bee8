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


package core

import "errors"

// Cross-component error taxonomy. Failure details recorded on the task
// ledger use the matching class prefix (e.g. "ParseError: ...").
var (
	// ErrParse indicates chunk production failed for an uploaded file.
	ErrParse = errors.New("parse error")

	// ErrEmbedding indicates the embedding service failed beyond its retry budget.
	ErrEmbedding = errors.New("embedding error")

	// ErrIndexWrite indicates vector or lexical persistence failed after chunking succeeded.
	ErrIndexWrite = errors.New("index write error")

	// ErrDuplicateQA indicates a non-deleted QA item with the same
	// normalized question already exists in the project.
	ErrDuplicateQA = errors.New("duplicate QA item")

	// ErrConcurrentIngestion indicates a task was requested for a document
	// that already has a non-terminal ingestion task.
	ErrConcurrentIngestion = errors.New("document already ingesting")

	// ErrIngestInFlight indicates a knowledge base cannot be deleted while
	// it has pending or running ingestion tasks.
	ErrIngestInFlight = errors.New("knowledge base has ingestion in flight")

	// ErrQAKBProtected indicates an operation targeted the project's
	// reserved QA knowledge base.
	ErrQAKBProtected = errors.New("operation not allowed on QA knowledge base")
)

// Domain validation errors
var (
	// ErrInvalidKnowledgeBase indicates a KnowledgeBase failed validation.
	ErrInvalidKnowledgeBase = errors.New("invalid knowledge base")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidQAItem indicates a QAItem failed validation.
	ErrInvalidQAItem = errors.New("invalid QA item")

	// ErrInvalidTaskState indicates an invalid TaskState value or transition.
	ErrInvalidTaskState = errors.New("invalid task state")

	// ErrEmptyName indicates a required name field is empty.
	ErrEmptyName = errors.New("name cannot be empty")

	// ErrEmptyText indicates the chunk Text field is empty.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyQuestion indicates the question field is empty.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrEmptyAnswer indicates the answer field is empty.
	ErrEmptyAnswer = errors.New("answer cannot be empty")
)
