package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/query"
)

// verboseMonitor prints each stage of answering a question.
type verboseMonitor struct {
	w io.Writer
}

var _ query.Monitor = (*verboseMonitor)(nil)

func newVerboseMonitor(w io.Writer) *verboseMonitor {
	return &verboseMonitor{w: w}
}

func (m *verboseMonitor) Start(req query.Request) {
	fmt.Fprintf(m.w, "Query: %q (session %q, top_k %d)\n", req.Query, req.SessionID, req.TopK)
}

func (m *verboseMonitor) AfterHistory(transcript string) {
	if transcript == "" {
		fmt.Fprintln(m.w, "History: none")
		return
	}
	fmt.Fprintf(m.w, "History: %d lines\n", strings.Count(transcript, "\n")+1)
}

func (m *verboseMonitor) AfterEmbedding(dimension int) {
	fmt.Fprintf(m.w, "Embedded query (%d dimensions)\n", dimension)
}

func (m *verboseMonitor) AfterSearch(matches []core.Match) {
	fmt.Fprintf(m.w, "Found %d matches\n", len(matches))
	for i, match := range matches {
		fmt.Fprintf(m.w, "  %d: %s %s [%0.3f]\n", i, match.ID, match.Metadata["url"], match.Score)
	}
}

func (m *verboseMonitor) AfterHydration(chunks []*core.Chunk) {
	fmt.Fprintf(m.w, "Loaded %d chunks\n", len(chunks))
}

func (m *verboseMonitor) Finish(result *query.Result) {
	fmt.Fprintf(m.w, "Answered with %d sources\n\n", len(result.Sources))
}
