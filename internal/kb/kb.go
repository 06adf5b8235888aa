// Package kb holds the static help-article knowledge base and its lexical
// search. Articles are loaded once and never mutated.
package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"gopkg.in/yaml.v3"
)

// MaxHits is the number of articles Search returns at most.
const MaxHits = 3

// Article is a knowledge-base entry. Only Title and Content are required;
// web and stub results fill Snippet, URL and Source instead.
type Article struct {
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string   `json:"title" yaml:"title"`
	Content     string   `json:"content,omitempty" yaml:"content,omitempty"`
	Snippet     string   `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	Summary     string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	Source      string   `json:"source,omitempty" yaml:"source,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Base is an immutable, searchable set of articles.
type Base struct {
	articles []Article
	index    []string // normalized title + content, parallel to articles
}

// New builds a Base over a copy of articles, preserving their order.
func New(articles []Article) *Base {
	b := &Base{
		articles: make([]Article, len(articles)),
		index:    make([]string, len(articles)),
	}
	copy(b.articles, articles)
	for i, a := range b.articles {
		b.index[i] = Normalize(a.Title + " " + a.Content)
	}
	return b
}

// Load reads a knowledge base from a JSON or YAML document holding a list of
// articles. A missing or unreadable file is logged and yields an empty Base,
// so search keeps working and returns nothing.
func Load(ctx context.Context, path string, logger log.Logger) *Base {
	if logger == nil {
		logger = log.Nop()
	}
	articles, err := ReadFile(path)
	if err != nil {
		logger.Error(ctx, err, "knowledge base unavailable, continuing with empty kb", "path", path)
		return New(nil)
	}
	logger.Info(ctx, "loaded knowledge base", "path", path, "articles", len(articles))
	return New(articles)
}

// ReadFile decodes the article list at path. The format is picked from the
// extension: .yaml/.yml is YAML, anything else JSON.
func ReadFile(path string) ([]Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("kb file not found: %w", err)
		}
		return nil, fmt.Errorf("read kb: %w", err)
	}

	var articles []Article
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &articles)
	default:
		err = json.Unmarshal(data, &articles)
	}
	if err != nil {
		return nil, fmt.Errorf("decode kb %s: %w", path, err)
	}
	return articles, nil
}

// Len reports the number of articles.
func (b *Base) Len() int { return len(b.articles) }

// Articles returns a copy of every article in KB order.
func (b *Base) Articles() []Article {
	out := make([]Article, len(b.articles))
	copy(out, b.articles)
	return out
}

// Search returns up to MaxHits articles matching query, in KB order.
//
// An article matches when every query token longer than two characters is a
// substring of its normalized title and content, or when the whole normalized
// query is. A blank query matches nothing.
func (b *Base) Search(query string) []Article {
	q := Normalize(query)
	if q == "" || b == nil {
		return nil
	}

	var tokens []string
	for _, tok := range strings.Fields(q) {
		if len(tok) > 2 {
			tokens = append(tokens, tok)
		}
	}

	var hits []Article
	for i, text := range b.index {
		if matchesAll(text, tokens) || strings.Contains(text, q) {
			hits = append(hits, b.articles[i])
			if len(hits) == MaxHits {
				break
			}
		}
	}
	return hits
}

func matchesAll(text string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			return false
		}
	}
	return true
}

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// synonyms are applied in order after punctuation is stripped.
var synonyms = []struct{ from, to string }{
	{"theme", "mode"},
	{"how do i enable", "enable"},
	{"how to enable", "enable"},
	{"how can i", ""},
}

// Normalize lowercases q, turns punctuation into spaces, collapses
// whitespace and applies the synonym table.
func Normalize(q string) string {
	q = strings.ToLower(q)
	q = nonWord.ReplaceAllString(q, " ")
	q = collapse(q)
	for _, s := range synonyms {
		q = strings.ReplaceAll(q, s.from, s.to)
	}
	return collapse(q)
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
