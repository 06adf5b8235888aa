// Package slack posts ticket escalations to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/triagedesk/internal/redact"
	"github.com/linnemanlabs/triagedesk/internal/triage"
)

const (
	maxReasonLen      = 1000
	maxDescriptionLen = 2000
	httpTimeout       = 10 * time.Second
)

// Notifier sends escalations to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyEscalation is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// NotifyEscalation implements triage.Notifier.
func (n *Notifier) NotifyEscalation(ctx context.Context, t *triage.Ticket, rec *triage.EscalationRecord) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(t, rec))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "escalation posted to slack", "ticket_id", t.ID, "escalation_id", rec.ID)
	return nil
}

func buildMessage(t *triage.Ticket, rec *triage.EscalationRecord) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(t),
			{"type": "divider"},
			fieldsBlock(t),
			{"type": "divider"},
			textBlock("Reason", redact.Secrets(rec.Reason), maxReasonLen, "_No reason given._"),
			textBlock("Ticket", redact.Secrets(t.Description), maxDescriptionLen, "_Empty ticket._"),
			{"type": "divider"},
			contextBlock(t, rec),
		},
	}
}

func headerBlock(t *triage.Ticket) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Ticket Escalated: %s", severityEmoji(t.Severity), t.ID),
		},
	}
}

func fieldsBlock(t *triage.Ticket) map[string]any {
	field := func(k, v string) map[string]any {
		if v == "" {
			v = "-"
		}
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s:* %s", k, v)}
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("Category", string(t.Category)),
			field("Severity", string(t.Severity)),
			field("User", t.UserID),
			field("Priority", t.Priority),
			field("Classified by", t.ClassifiedBy),
		},
	}
}

func textBlock(title, text string, limit int, empty string) map[string]any {
	text = truncate(text, limit)
	if text == "" {
		text = empty
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n\n%s", title, text),
		},
	}
}

func contextBlock(t *triage.Ticket, rec *triage.EscalationRecord) map[string]any {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = t.CreatedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("triagedesk • escalation %s • %s", rec.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func severityEmoji(severity triage.Severity) string {
	if severity == triage.SeverityHigh {
		return "\U0001f534" // red circle
	}
	return "\U0001f7e1" // yellow circle
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
