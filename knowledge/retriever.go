// Package knowledge defines the retrieval contract consumed for knowledge
// injection, plus a Redis read-through cache decorator. The retrieval engine
// itself (embedding, ranking) lives behind the Retriever interface and is
// supplied by the caller.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Snippet is one ranked retrieval result. Provenance fields identify the
// source document so the assembled prompt can cite it.
type Snippet struct {
	ChunkID       string  `json:"chunk_id,omitempty"`
	DocumentID    string  `json:"document_id,omitempty"`
	DocumentTitle string  `json:"document_title,omitempty"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
}

// Retriever is the knowledge capability: given a query and budgets, it
// returns a ranked, finite list of snippets. Implementations must honor ctx
// cancellation.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error) {
	return f(ctx, query, topK, maxCandidates)
}

// SortByScore orders snippets most relevant first, in place. Ordering is
// stable so equal-score snippets keep their retrieval order.
func SortByScore(snippets []Snippet) {
	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Score > snippets[j].Score
	})
}

// Format renders snippets as a reference block for prompt injection, most
// relevant first, with document provenance retained. Empty-content snippets
// are skipped. Returns "" when nothing usable remains.
func Format(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}

	ordered := make([]Snippet, len(snippets))
	copy(ordered, snippets)
	SortByScore(ordered)

	var blocks []string
	for i, s := range ordered {
		content := strings.TrimSpace(s.Content)
		if content == "" {
			continue
		}
		title := s.DocumentTitle
		if title == "" {
			title = "Document"
		}
		blocks = append(blocks, fmt.Sprintf("[%d] %s\n%s", i+1, title, content))
	}
	if len(blocks) == 0 {
		return ""
	}

	return "Reference material retrieved from the knowledge base (use only when relevant, never fabricate citations):\n\n" +
		strings.Join(blocks, "\n\n---\n\n")
}
