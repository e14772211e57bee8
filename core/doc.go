// Package core defines the domain model for the knowledge base:
// knowledge bases, documents, chunks, QA items, and ingestion tasks,
// together with ID generation, text canonicalization, validation,
// and the binary serializers used by the storage layer.
package core
