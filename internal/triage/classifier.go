package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// Classification sources.
const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

// Classifier assigns a category and severity to a ticket. It never fails;
// implementations degrade to a default bucket instead.
type Classifier interface {
	Classify(ctx context.Context, t *Ticket) Classification
}

type rule struct {
	keywords  []string
	category  Category
	severity  Severity
	reasoning string
}

// rules are tested in order; the first keyword hit wins.
var rules = []rule{
	{
		keywords:  []string{"charge", "billing", "refund", "payment", "double"},
		category:  CategoryBilling,
		severity:  SeverityHigh,
		reasoning: "Billing issue detected",
	},
	{
		keywords:  []string{"login", "password", "account", "access"},
		category:  CategoryAccountAccess,
		severity:  SeverityHigh,
		reasoning: "Account access issue",
	},
	{
		keywords:  []string{"crash", "error", "not working", "broken", "bug", "player", "video"},
		category:  CategoryTechnical,
		severity:  SeverityHigh,
		reasoning: "Technical issue detected",
	},
	{
		keywords:  []string{"dark mode", "feature", "enable", "how do i", "how to"},
		category:  CategoryFeatureRequest,
		severity:  SeverityLow,
		reasoning: "Feature request or question",
	},
}

// RuleClassifier is the deterministic keyword classifier.
type RuleClassifier struct{}

// Classify matches the lowercased description against the rule table.
func (RuleClassifier) Classify(_ context.Context, t *Ticket) Classification {
	desc := strings.ToLower(t.Description)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(desc, kw) {
				return Classification{
					Category:  r.category,
					Severity:  r.severity,
					Reasoning: r.reasoning,
					Source:    SourceRules,
				}
			}
		}
	}
	return Classification{
		Category:  CategoryOther,
		Severity:  SeverityLow,
		Reasoning: "General inquiry",
		Source:    SourceRules,
	}
}

const classifyMaxTokens = 256

const classifySystemPrompt = `You classify customer support tickets.
Reply with one JSON object and nothing else:
{"category": "...", "severity": "low | high", "reasoning": "one sentence"}
category is one of: billing, billing_dispute, account_access, technical_issue, feature_request, other.
Use billing_dispute when the customer contests a charge. Use high severity when the customer is blocked, losing money, or the product is broken.`

// LLMClassifier asks the Provider to classify and falls back to the rule
// table on any failure.
type LLMClassifier struct {
	provider Provider
	fallback Classifier
	logger   log.Logger
	hooks    Hooks
}

// NewLLMClassifier creates a classifier backed by p. A nil provider makes
// every call use the rule table.
func NewLLMClassifier(p Provider, logger log.Logger, hooks Hooks) *LLMClassifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &LLMClassifier{
		provider: p,
		fallback: RuleClassifier{},
		logger:   logger,
		hooks:    hooks,
	}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, t *Ticket) Classification {
	if c.provider == nil {
		return c.fallback.Classify(ctx, t)
	}

	resp, err := callLLM(ctx, c.provider, c.hooks, t.ID, PurposeClassify, &LLMRequest{
		MaxTokens: classifyMaxTokens,
		System:    classifySystemPrompt,
		Prompt:    fmt.Sprintf("Ticket:\n%q", t.Description),
	})
	if err != nil {
		c.logger.Warn(ctx, "llm classification failed, using rules", "ticket_id", t.ID, "error", err)
		return c.fallback.Classify(ctx, t)
	}

	cl, ok := parseClassification(resp.Text)
	if !ok {
		c.logger.Warn(ctx, "unparseable llm classification, using rules", "ticket_id", t.ID)
		return c.fallback.Classify(ctx, t)
	}
	return cl
}

func parseClassification(text string) (Classification, bool) {
	raw, ok := firstJSONObject(text)
	if !ok {
		return Classification{}, false
	}
	var out struct {
		Category  string `json:"category"`
		Severity  string `json:"severity"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Classification{}, false
	}
	cat, ok := ParseCategory(out.Category)
	if !ok {
		return Classification{}, false
	}
	return Classification{
		Category:  cat,
		Severity:  NormalizeSeverity(out.Severity),
		Reasoning: strings.TrimSpace(out.Reasoning),
		Source:    SourceLLM,
	}, true
}

// firstJSONObject returns the first well-formed JSON object embedded in
// text, skipping prose and code fences around it. Braces are matched in a
// single pass, quote-aware inside an object, and each closed candidate is
// checked with json.Valid.
func firstJSONObject(text string) (json.RawMessage, bool) {
	var (
		starts     []int
		inString   bool
		escaped    bool
		found      json.RawMessage
		foundStart int
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(starts) > 0
		case '{':
			starts = append(starts, i)
		case '}':
			if len(starts) == 0 {
				continue
			}
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			if (found == nil || start < foundStart) && json.Valid([]byte(text[start:i+1])) {
				found, foundStart = json.RawMessage(text[start:i+1]), start
			}
			if len(starts) == 0 && found != nil {
				return found, true
			}
		}
	}
	return found, found != nil
}
