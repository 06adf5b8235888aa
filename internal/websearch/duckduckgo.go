package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/triagedesk/internal/audit"
	"github.com/linnemanlabs/triagedesk/internal/kb"
)

// DefaultEndpoint is the DuckDuckGo Instant Answer API.
const DefaultEndpoint = "https://api.duckduckgo.com/"

// maxBody caps how much of an answer we read.
const maxBody = 1 << 20

// DuckDuckGo searches the web through the DuckDuckGo Instant Answer API.
type DuckDuckGo struct {
	endpoint   string
	httpClient *http.Client
	audit      audit.Recorder
}

// NewDuckDuckGo creates a client for endpoint (DefaultEndpoint when empty).
func NewDuckDuckGo(endpoint string, rec audit.Recorder) *DuckDuckGo {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if rec == nil {
		rec = audit.Discard(nil)
	}
	return &DuckDuckGo{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		audit: rec,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search returns at most limit results. Any failure is recorded and yields an
// empty result.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) []kb.Article {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	if strings.TrimSpace(query) == "" {
		d.audit.Record(ctx, "web_search.error", audit.LevelWarning, map[string]any{
			"query": query,
			"error": "empty query",
		})
		return nil
	}

	body, err := d.fetch(ctx, query)
	if err != nil {
		d.audit.Record(ctx, "web_search.error", audit.LevelError, map[string]any{
			"query": query,
			"error": err.Error(),
		})
		return nil
	}

	results := parseInstantAnswer(body, limit)
	d.audit.Record(ctx, "web_search.success", audit.LevelInfo, map[string]any{
		"query": query,
		"hits":  len(results),
	})
	return results
}

func (d *DuckDuckGo) fetch(ctx context.Context, query string) ([]byte, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("web search returned invalid json")
	}
	return body, nil
}

// parseInstantAnswer maps the abstract and related topics of an answer to
// articles. Topic groups are flattened in order.
func parseInstantAnswer(body []byte, limit int) []kb.Article {
	var out []kb.Article
	add := func(title, link, text string) bool {
		if text == "" && title == "" {
			return true
		}
		out = append(out, kb.Article{Title: title, URL: link, Snippet: text, Source: SourceWeb})
		return len(out) < limit
	}

	doc := gjson.ParseBytes(body)
	if abs := doc.Get("AbstractText").String(); abs != "" {
		title := doc.Get("Heading").String()
		if !add(title, doc.Get("AbstractURL").String(), abs) {
			return out
		}
	}

	var walk func(topics gjson.Result) bool
	walk = func(topics gjson.Result) bool {
		cont := true
		topics.ForEach(func(_, t gjson.Result) bool {
			if nested := t.Get("Topics"); nested.IsArray() {
				cont = walk(nested)
				return cont
			}
			text := t.Get("Text").String()
			cont = add(topicTitle(text), t.Get("FirstURL").String(), text)
			return cont
		})
		return cont
	}
	walk(doc.Get("RelatedTopics"))

	return out
}

// topicTitle takes the lead phrase of a related-topic text, which the API
// formats as "Title - description".
func topicTitle(text string) string {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i]
	}
	return text
}
