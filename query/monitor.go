package query

import "github.com/poiesic/webrag/core"

// Monitor provides hooks to observe the answering process.
// Implement this interface to trace intermediate results, e.g. from the CLI.
type Monitor interface {
	Start(req Request)
	AfterHistory(transcript string)
	AfterEmbedding(dimension int)
	AfterSearch(matches []core.Match)
	AfterHydration(chunks []*core.Chunk)
	Finish(result *Result)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Request)                {}
func (n *noopMonitor) AfterHistory(_ string)          {}
func (n *noopMonitor) AfterEmbedding(_ int)           {}
func (n *noopMonitor) AfterSearch(_ []core.Match)     {}
func (n *noopMonitor) AfterHydration(_ []*core.Chunk) {}
func (n *noopMonitor) Finish(_ *Result)               {}
