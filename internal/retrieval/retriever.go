// Package retrieval provides the question-similarity search used by the
// consultation fallback and the chat assistant: a small SQLite-backed chunk
// index built from the PDF corpus, searched by embeddings when a language
// model is configured and by term overlap otherwise.
package retrieval

import (
	"context"
	"strings"
)

// Passage is one ranked piece of retrieved text.
type Passage struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	default:
		return "error"
	}
}

// Result is the outcome of a search. A failed search carries Err and no
// passages; callers branch on Status instead of recovering from errors.
type Result struct {
	Passages []Passage
	Err      error
}

func (r Result) Status() Status {
	switch {
	case r.Err != nil:
		return StatusError
	case len(r.Passages) == 0:
		return StatusEmpty
	default:
		return StatusOK
	}
}

// Join concatenates passage contents with blank-line separators, truncating
// each passage to max runes when max > 0.
func (r Result) Join(max int) string {
	parts := make([]string, 0, len(r.Passages))
	for _, p := range r.Passages {
		c := p.Content
		if max > 0 {
			if rs := []rune(c); len(rs) > max {
				c = string(rs[:max])
			}
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, "\n\n")
}

// Retriever returns up to k passages ranked by similarity to query.
type Retriever interface {
	Search(ctx context.Context, query string, k int) Result
}

// VersionSource exposes the current build marker of the index. Any rebuild
// changes it.
type VersionSource interface {
	Version() float64
}

// Nop is the retriever used when no index is available.
type Nop struct{}

func (Nop) Search(context.Context, string, int) Result { return Result{} }

func (Nop) Version() float64 { return 0 }
