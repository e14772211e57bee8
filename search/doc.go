// Package search implements hybrid retrieval over indexed chunks.
//
// A query is answered twice: by cosine similarity over the stored
// vectors and by BM25 over the lexical postings. The two rankings run
// concurrently and are combined with reciprocal rank fusion, which
// rewards chunks that place well in either list without comparing the
// incomparable raw scores.
package search
