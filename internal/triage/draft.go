package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/audit"
	"github.com/linnemanlabs/triagedesk/internal/kb"
	"github.com/linnemanlabs/triagedesk/internal/redact"
)

const (
	draftMaxTokens  = 1024
	snippetMaxLen   = 500
	snippetTruncTag = "...<TRUNCATED>"

	// DefaultWebResults is how many web results the fallback asks for.
	DefaultWebResults = 5

	// DraftErrorText is returned when the backend call fails.
	DraftErrorText = "Error generating draft reply. Please check logs."
)

// WebSearcher is the web-search fallback capability.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) []kb.Article
}

// Draft is the outcome of a synthesis attempt. Reply is nil when the
// backend output held no structured object; Text is then the raw output.
type Draft struct {
	Reply   *Reply
	Text    string
	Context []kb.Article
	UsedWeb bool
}

// Drafter synthesizes replies from ticket text and retrieved context.
type Drafter struct {
	provider Provider
	web      WebSearcher
	webLimit int
	audit    audit.Recorder
	logger   log.Logger
	hooks    Hooks
}

// NewDrafter creates a Drafter. A nil provider puts it in missing-credential
// mode; a nil web searcher disables the web fallback.
func NewDrafter(p Provider, web WebSearcher, webLimit int, rec audit.Recorder, logger log.Logger, hooks Hooks) *Drafter {
	if logger == nil {
		logger = log.Nop()
	}
	if rec == nil {
		rec = audit.Discard(logger)
	}
	if webLimit <= 0 {
		webLimit = DefaultWebResults
	}
	return &Drafter{
		provider: p,
		web:      web,
		webLimit: webLimit,
		audit:    rec,
		logger:   logger,
		hooks:    hooks,
	}
}

// Generate produces a reply for t. It never returns an error: missing
// credentials, backend failures and malformed output all degrade to a
// textual reply.
func (d *Drafter) Generate(ctx context.Context, t *Ticket, hits []kb.Article, history []*Ticket) *Draft {
	if d.provider == nil {
		return missingCredentialDraft()
	}

	out := &Draft{Context: hits}
	if len(hits) == 0 && d.web != nil {
		query := redact.Secrets(t.Description)
		d.audit.Record(ctx, "draft.web_fallback", audit.LevelInfo, map[string]any{
			"ticket_id": t.ID,
			"query":     query,
		})
		web := d.web.Search(ctx, query, d.webLimit)
		outcome := "empty"
		if len(web) > 0 {
			outcome = "hit"
			out.Context = web
			out.UsedWeb = true
		}
		if d.hooks.OnWebFallback != nil {
			d.hooks.OnWebFallback(outcome)
		}
	}

	resp, err := callLLM(ctx, d.provider, d.hooks, t.ID, PurposeDraft, &LLMRequest{
		MaxTokens: draftMaxTokens,
		System:    draftSystemPrompt,
		Prompt:    buildDraftPrompt(t, out.Context, history),
	})
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return missingCredentialDraft()
		}
		d.logger.Error(ctx, err, "draft generation failed", "ticket_id", t.ID)
		d.audit.Record(ctx, "draft.error", audit.LevelError, map[string]any{
			"ticket_id": t.ID,
			"error":     err.Error(),
		})
		out.Text = DraftErrorText
		return out
	}

	raw := scrubBoilerplate(redact.Secrets(resp.Text))
	if reply, ok := parseReply(raw); ok {
		if t.Severity == SeverityHigh {
			reply.Action = ActionEscalate
		}
		out.Reply = reply
		out.Text = reply.Body
	} else {
		out.Text = raw
	}

	d.audit.Record(ctx, "draft.success", audit.LevelInfo, map[string]any{
		"ticket_id":    t.ID,
		"draft_length": len(out.Text),
		"structured":   out.Reply != nil,
		"web_context":  out.UsedWeb,
	})
	return out
}

func missingCredentialDraft() *Draft {
	r := &Reply{
		Subject: "Missing API Key",
		Body:    "No generative text API key configured. Cannot generate draft.",
		Action:  ActionError,
	}
	return &Draft{Reply: r, Text: r.Body}
}

// parseReply extracts the first structured reply from text. An object with
// neither subject nor body does not count.
func parseReply(text string) (*Reply, bool) {
	raw, ok := firstJSONObject(text)
	if !ok {
		return nil, false
	}
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false
	}
	if r.Subject == "" && r.Body == "" {
		return nil, false
	}
	switch r.Action {
	case ActionReply, ActionEscalate, ActionRequestInfo:
	default:
		r.Action = ActionReply
	}
	return &r, true
}

// boilerplate phrases are stripped from backend output.
var boilerplate = []string{"As an AI", "I cannot", "model cannot", "ChatGPT", "Gemini", "Claude"}

func scrubBoilerplate(s string) string {
	for _, b := range boilerplate {
		s = strings.ReplaceAll(s, b, "")
	}
	return strings.TrimSpace(s)
}

const draftSystemPrompt = `You are an enterprise-grade Tier-1 Customer Support Agent.

You must ALWAYS reply in STRICT JSON with:
{
  "subject": "...",
  "body": "...",
  "action": "reply | escalate | request_info",
  "explain": "explanation for logs only"
}

Rules:
- Professional, concise, helpful.
- If knowledge base hits exist, answer only from them and summarize them.
- If web search results exist, extract the specific answer and state it clearly. Even if the information is partial, provide what you found. Never just say "see article".
- If no information was found, politely ask a clarifying question for the missing details and use action "request_info".
- If severity is high, set action to "escalate".
- NEVER output anything outside the JSON.`

// snippet picks the most specific text field of an article.
func snippet(a kb.Article) string {
	for _, v := range []string{a.Snippet, a.Content, a.Summary, a.Description} {
		if v != "" {
			return truncateField(v)
		}
	}
	if a.Title != "" {
		return truncateField(a.Title)
	}
	return "KB Result"
}

func truncateField(s string) string {
	if len(s) <= snippetMaxLen {
		return s
	}
	cut := snippetMaxLen
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + snippetTruncTag
}

func buildDraftPrompt(t *Ticket, hits []kb.Article, history []*Ticket) string {
	var b strings.Builder

	category := string(t.Category)
	if category == "" {
		category = "unknown"
	}
	severity := string(t.Severity)
	if severity == "" {
		severity = string(SeverityLow)
	}

	fmt.Fprintf(&b, "Context:\nTicket: %q\nCategory: %s\nSeverity: %s\n\n", redact.Secrets(t.Description), category, severity)

	b.WriteString("Knowledge Base / Web Results:\n")
	if len(hits) == 0 {
		b.WriteString("No KB matches.\n")
	}
	for _, h := range hits {
		title := h.Title
		if title == "" {
			title = "KB Result"
		}
		fmt.Fprintf(&b, "- %s: %s\n", title, redact.Secrets(snippet(h)))
	}

	b.WriteString("\nCustomer History:\n")
	if len(history) == 0 {
		b.WriteString("No previous conversations found.\n")
	}
	for _, h := range history {
		status := "open"
		if h.Outcome != nil {
			status = string(h.Outcome.Status)
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", h.Category, truncateField(redact.Secrets(h.Description)), status)
	}

	b.WriteString("\nWrite the JSON ONLY.")
	return b.String()
}
