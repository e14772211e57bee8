package search

import "github.com/poiesic/kbase/core"

// RetrievalMonitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps during a query.
type RetrievalMonitor interface {
	Start(query string)
	AfterEmbedding(dimensions int)
	AfterDenseSearch(matches []core.ChunkMatch)
	AfterLexicalSearch(matches []core.ChunkMatch)
	Finish(result *Result)
}

// noopMonitor is a no-op implementation of RetrievalMonitor
type noopMonitor struct{}

var _ RetrievalMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                         {}
func (n *noopMonitor) AfterEmbedding(_ int)                   {}
func (n *noopMonitor) AfterDenseSearch(_ []core.ChunkMatch)   {}
func (n *noopMonitor) AfterLexicalSearch(_ []core.ChunkMatch) {}
func (n *noopMonitor) Finish(_ *Result)                       {}
