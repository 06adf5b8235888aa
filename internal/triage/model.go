package triage

import (
	"strings"
	"time"
)

// Category is the kind of problem a ticket describes.
type Category string

const (
	CategoryBilling        Category = "billing"
	CategoryBillingDispute Category = "billing_dispute"
	CategoryAccountAccess  Category = "account_access"
	CategoryTechnical      Category = "technical_issue"
	CategoryFeatureRequest Category = "feature_request"
	CategoryOther          Category = "other"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryBilling,
	CategoryBillingDispute,
	CategoryAccountAccess,
	CategoryTechnical,
	CategoryFeatureRequest,
	CategoryOther,
}

// ParseCategory maps s to a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Severity is how urgently a ticket needs a human.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// NormalizeSeverity folds free-form severities onto low/high.
func NormalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "critical", "urgent":
		return SeverityHigh
	default:
		return SeverityLow
	}
}

// State is a step of the triage pipeline.
type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateEscalating State = "escalating"
	StateDrafting   State = "drafting"
	StateCompleted  State = "completed"
)

// Status is the final outcome of a triage run.
type Status string

const (
	// StatusDrafted means a reply was synthesized
	StatusDrafted Status = "drafted"

	// StatusEscalated means the ticket was handed to Tier 2
	StatusEscalated Status = "escalated"
)

// Action is what a drafted reply asks the agent to do next.
type Action string

const (
	ActionReply       Action = "reply"
	ActionEscalate    Action = "escalate"
	ActionRequestInfo Action = "request_info"
	ActionError       Action = "error"
)

// Ticket is a customer support request. Classification fields are filled in
// by the pipeline; Outcome is appended once the run completes.
type Ticket struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	UserID       string    `json:"user_id"`
	Priority     string    `json:"priority,omitempty"`
	Category     Category  `json:"category,omitempty"`
	Severity     Severity  `json:"severity,omitempty"`
	Reasoning    string    `json:"reasoning,omitempty"`
	ClassifiedBy string    `json:"classified_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Outcome      *Outcome  `json:"outcome,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Outcome != nil {
		o := *t.Outcome
		cp.Outcome = &o
	}
	return &cp
}

// Outcome is the result history recorded on a stored ticket.
type Outcome struct {
	Status      Status    `json:"status"`
	Reply       string    `json:"reply"`
	KBHits      int       `json:"kb_hits"`
	CompletedAt time.Time `json:"completed_at"`
}

// Classification is the output of a Classifier.
type Classification struct {
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Reasoning string   `json:"reasoning"`
	Source    string   `json:"source"`
}

// Reply is a structured draft answer.
type Reply struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Action  Action `json:"action"`
	Explain string `json:"explain,omitempty"`
}

// EscalationRecord is an append-only note that a ticket went to Tier 2.
type EscalationRecord struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is what Process returns to the caller.
type Result struct {
	TicketID  string        `json:"ticket_id"`
	Status    Status        `json:"status"`
	Reply     string        `json:"reply"`
	Draft     *Reply        `json:"draft,omitempty"`
	KBHits    int           `json:"kb_hits"`
	Category  Category      `json:"category"`
	Severity  Severity      `json:"severity"`
	Reasoning string        `json:"reasoning,omitempty"`
	Path      []State       `json:"path"`
	Duration  time.Duration `json:"-"`
}
