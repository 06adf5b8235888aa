package kb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"
)

var fixture = []Article{
	{ID: "kb_001", Title: "Password Reset", Content: "Click 'Forgot password' on the login page."},
	{ID: "kb_002", Title: "Billing - Duplicate Charge", Content: "Duplicate charges are refunded within 5 days."},
	{ID: "kb_003", Title: "App Crashes", Content: "Update the app and clear the cache."},
	{ID: "kb_004", Title: "Feature Request - Dark Mode", Content: "Dark mode is in beta. Enable it in Settings > Display > Theme (Beta)."},
	{ID: "kb_005", Title: "Cancel Subscription", Content: "Cancel from Account > Subscription."},
}

func ids(articles []Article) []string {
	out := make([]string, 0, len(articles))
	for _, a := range articles {
		out = append(out, a.ID)
	}
	return out
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"How do I enable dark mode?", "enable dark mode"},
		{"  DARK MODE  ", "dark mode"},
		{"How to enable the dark theme!!", "enable the dark mode"},
		{"How can I reset my password?", "reset my password"},
		{"billing/refund---now", "billing refund now"},
		{"", ""},
		{"?!...", ""},
		{"Café crème", "café crème"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	b := New(fixture)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"dark mode", "dark mode", []string{"kb_004"}},
		{"question form", "How do I enable dark mode?", []string{"kb_004"}},
		{"theme synonym", "dark theme", []string{"kb_004"}},
		{"all tokens required", "billing duplicate charge", []string{"kb_002"}},
		{"token order irrelevant", "charge duplicate", []string{"kb_002"}},
		{"substring not whole word", "refund", []string{"kb_002"}},
		{"no match", "xyzabc123nonexistent", nil},
		{"empty", "", nil},
		{"blank", "   ", nil},
		{"punctuation only", "?!", nil},
		{"short tokens fall back to phrase", "is in", []string{"kb_004"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ids(b.Search(tt.query))
			if len(tt.want) == 0 && len(got) == 0 {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Search(%q) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestSearch_CapsAtThreeInKBOrder(t *testing.T) {
	t.Parallel()

	var articles []Article
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		articles = append(articles, Article{ID: id, Title: "Shared topic " + id, Content: "the same words"})
	}
	b := New(articles)

	got := ids(b.Search("the"))
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	t.Parallel()

	b := New(fixture)
	first := b.Search("mode")
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, b.Search("mode")); diff != "" {
			t.Fatalf("search not deterministic:\n%s", diff)
		}
	}
}

func TestSearch_EmptyBase(t *testing.T) {
	t.Parallel()

	if got := New(nil).Search("dark mode"); len(got) != 0 {
		t.Errorf("empty kb returned %d hits", len(got))
	}
	var nilBase *Base
	if got := nilBase.Search("dark mode"); got != nil {
		t.Errorf("nil base returned %v", got)
	}
}

func TestNew_CopiesInput(t *testing.T) {
	t.Parallel()

	in := []Article{{ID: "x", Title: "Dark Mode", Content: "beta"}}
	b := New(in)
	in[0].Title = "changed"

	if got := b.Articles()[0].Title; got != "Dark Mode" {
		t.Errorf("Base shares backing array with caller: %q", got)
	}
}

func TestLoad_YAMLAndJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "kb.yaml")
	jsonPath := filepath.Join(dir, "kb.json")

	if err := os.WriteFile(yamlPath, []byte("- title: Dark Mode\n  content: Enable it in Settings.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(jsonPath, []byte(`[{"title":"Dark Mode","content":"Enable it in Settings."}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{yamlPath, jsonPath} {
		b := Load(context.Background(), p, log.Nop())
		if b.Len() != 1 {
			t.Errorf("%s: Len = %d, want 1", p, b.Len())
		}
		if hits := b.Search("dark mode"); len(hits) != 1 {
			t.Errorf("%s: hits = %d, want 1", p, len(hits))
		}
	}
}

func TestLoad_MissingFileYieldsEmptyBase(t *testing.T) {
	t.Parallel()

	b := Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"), nil)
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
	if hits := b.Search("dark mode"); len(hits) != 0 {
		t.Errorf("hits = %d, want 0", len(hits))
	}
}

func TestReadFile_Malformed(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(p, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := ReadFile(p)
	if err == nil || !strings.Contains(err.Error(), "decode kb") {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestBundledKnowledgeBase(t *testing.T) {
	t.Parallel()

	b := Load(context.Background(), filepath.Join("..", "..", "data", "kb.yaml"), log.Nop())
	if b.Len() == 0 {
		t.Fatal("bundled kb is empty")
	}

	hits := b.Search("dark mode")
	if len(hits) == 0 {
		t.Fatal("no hits for dark mode")
	}
	found := false
	for _, h := range hits {
		if strings.Contains(strings.ToLower(h.Title+" "+h.Content), "dark mode") {
			found = true
		}
	}
	if !found {
		t.Errorf("dark mode article not among hits: %v", ids(hits))
	}

	if hits := b.Search("billing duplicate charge"); len(hits) == 0 {
		t.Error("no hits for billing duplicate charge")
	}
	if hits := b.Search("xyzabc123nonexistent"); len(hits) != 0 {
		t.Errorf("unexpected hits: %v", ids(hits))
	}
	if hits := b.Search("the"); len(hits) > MaxHits {
		t.Errorf("got %d hits, want <= %d", len(hits), MaxHits)
	}
}
