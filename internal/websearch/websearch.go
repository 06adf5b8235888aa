// Package websearch provides the web-search fallback used when the knowledge
// base has no answer. Both variants return kb.Article values so callers treat
// web and KB context alike, and neither ever returns an error.
package websearch

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/triagedesk/internal/audit"
	"github.com/linnemanlabs/triagedesk/internal/kb"
)

const (
	// DefaultMaxResults is used when a caller passes limit <= 0.
	DefaultMaxResults = 3

	// SourceWeb marks results that came from the internet.
	SourceWeb = "web"

	// SourceKB marks results served by the offline stub.
	SourceKB = "kb"

	maxStubSnippet = 300
)

// Searcher is a web-search capability.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) []kb.Article
}

// KBStub answers web searches from the local knowledge base, for offline
// and test runs.
type KBStub struct {
	base  *kb.Base
	audit audit.Recorder
}

// NewKBStub creates a stub over base.
func NewKBStub(base *kb.Base, rec audit.Recorder) *KBStub {
	if rec == nil {
		rec = audit.Discard(nil)
	}
	return &KBStub{base: base, audit: rec}
}

func (s *KBStub) Name() string { return "kb_stub" }

// Search returns KB hits shaped like web results.
func (s *KBStub) Search(ctx context.Context, query string, limit int) []kb.Article {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	if strings.TrimSpace(query) == "" {
		s.audit.Record(ctx, "web_search_stub.error", audit.LevelWarning, map[string]any{
			"query": query,
			"error": "empty or invalid query",
		})
		return nil
	}

	hits := s.base.Search(query)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]kb.Article, 0, len(hits))
	for _, h := range hits {
		out = append(out, kb.Article{
			Title:   h.Title,
			Snippet: stubSnippet(h.Content),
			URL:     h.URL,
			Source:  SourceKB,
		})
	}

	s.audit.Record(ctx, "web_search_stub.result", audit.LevelInfo, map[string]any{
		"query": query,
		"hits":  len(out),
	})
	return out
}

// stubSnippet flattens newlines and cuts content at a word boundary.
func stubSnippet(content string) string {
	s := strings.ReplaceAll(strings.TrimSpace(content), "\n", " ")
	if len(s) <= maxStubSnippet {
		return s
	}
	cut := maxStubSnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	s = s[:cut]
	if i := strings.LastIndex(s, " "); i > 0 {
		s = s[:i]
	}
	return s + "..."
}
