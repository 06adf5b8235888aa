package triage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/audit"
	"github.com/linnemanlabs/triagedesk/internal/kb"
	"github.com/linnemanlabs/triagedesk/internal/redact"
)

// Escalation triggers, used as metric labels.
const (
	TriggerSeverity       = "severity"
	TriggerBillingDispute = "billing_dispute"
)

// ErrorReplyText is the reply of a run that failed unexpectedly.
const ErrorReplyText = "We could not process this ticket automatically. A support agent will follow up."

// Retriever searches the knowledge base.
type Retriever interface {
	Search(query string) []kb.Article
}

// Service is the triage orchestrator. Each Process call runs a ticket
// synchronously through RECEIVED, CLASSIFIED, ESCALATING or DRAFTING, and
// COMPLETED.
type Service struct {
	store      Store
	classifier Classifier
	retriever  Retriever
	drafter    *Drafter
	escalator  *Escalator
	audit      audit.Recorder
	logger     log.Logger
	hooks      Hooks
	now        func() time.Time
}

// NewService wires the orchestrator.
func NewService(store Store, classifier Classifier, retriever Retriever, drafter *Drafter, escalator *Escalator, rec audit.Recorder, logger log.Logger, hooks Hooks) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if rec == nil {
		rec = audit.Discard(logger)
	}
	if classifier == nil {
		classifier = RuleClassifier{}
	}
	if retriever == nil {
		retriever = kb.New(nil)
	}
	return &Service{
		store:      store,
		classifier: classifier,
		retriever:  retriever,
		drafter:    drafter,
		escalator:  escalator,
		audit:      rec,
		logger:     logger,
		hooks:      hooks,
		now:        time.Now,
	}
}

// Process triages t. The ticket is classified and persisted before the
// escalate/draft branch, so a failure later still leaves a classified
// record. The only error returned is ErrDuplicateTicket; every other
// failure degrades to an error-shaped Result.
func (s *Service) Process(ctx context.Context, t *Ticket) (res *Result, err error) {
	start := s.now()

	t = t.Clone()
	if t == nil {
		t = &Ticket{}
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = ulid.Make().String()
	}
	if t.UserID == "" {
		t.UserID = "unknown"
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = start.UTC()
	}

	ctx, span := tracer.Start(ctx, "triage.process", trace.WithAttributes(
		attribute.String("triagedesk.ticket.id", t.ID),
	))
	defer span.End()

	L := s.logger.With("ticket_id", t.ID)
	res = &Result{TicketID: t.ID, Path: []State{StateReceived}}

	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("triage panic: %v", r)
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Error())
			L.Error(ctx, perr, "triage aborted")
			s.audit.Record(ctx, "triage.error", audit.LevelError, map[string]any{
				"ticket_id": t.ID,
				"error":     perr.Error(),
			})
			res.Reply = ErrorReplyText
			res.Draft = nil
			res.Duration = s.now().Sub(start)
			s.settleAborted(ctx, L, t, res)
			err = nil
		}
	}()

	s.audit.Record(ctx, "triage.start", audit.LevelInfo, map[string]any{
		"ticket_id": t.ID,
		"user_id":   t.UserID,
	})

	// RECEIVED -> CLASSIFIED
	cl := s.classifier.Classify(ctx, t)
	cl.Reasoning = redact.Secrets(cl.Reasoning)
	t.Category, t.Severity, t.Reasoning, t.ClassifiedBy = cl.Category, cl.Severity, cl.Reasoning, cl.Source
	res.Category, res.Severity, res.Reasoning = cl.Category, cl.Severity, cl.Reasoning
	res.Path = append(res.Path, StateClassified)
	span.SetAttributes(
		attribute.String("triagedesk.ticket.category", string(cl.Category)),
		attribute.String("triagedesk.ticket.severity", string(cl.Severity)),
		attribute.String("triagedesk.classifier.source", cl.Source),
	)
	if s.hooks.OnClassify != nil {
		s.hooks.OnClassify(cl.Source, cl.Category)
	}
	s.audit.Record(ctx, "triage.analysis", audit.LevelInfo, map[string]any{
		"ticket_id": t.ID,
		"category":  string(cl.Category),
		"severity":  string(cl.Severity),
		"reasoning": cl.Reasoning,
		"source":    cl.Source,
	})

	stored := t.Clone()
	stored.Description = redact.Secrets(t.Description)
	if err := s.store.Add(ctx, stored); err != nil {
		if errors.Is(err, ErrDuplicateTicket) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		L.Error(ctx, err, "failed to persist classified ticket")
		s.audit.Record(ctx, "memory.error", audit.LevelError, map[string]any{
			"ticket_id": t.ID,
			"error":     err.Error(),
		})
	}

	if trigger, ok := escalationTrigger(cl); ok {
		res.Path = append(res.Path, StateEscalating)
		reason := "High severity or billing dispute detected: " + cl.Reasoning
		res.Status = StatusEscalated
		res.Reply = redact.Secrets(s.escalator.Escalate(ctx, t, reason))
		if s.hooks.OnEscalation != nil {
			s.hooks.OnEscalation(trigger)
		}
	} else {
		res.Path = append(res.Path, StateDrafting)
		hits := s.retriever.Search(t.Description)
		s.audit.Record(ctx, "kb.search", audit.LevelInfo, map[string]any{
			"ticket_id": t.ID,
			"query":     t.Description,
			"hits":      len(hits),
		})

		history, herr := s.similar(ctx, t.ID, cl.Category)
		if herr != nil {
			L.Warn(ctx, "similar ticket lookup failed", "error", herr)
		}

		d := s.drafter.Generate(ctx, t, hits, history)
		res.Status = StatusDrafted
		res.Reply = redact.Secrets(d.Text)
		res.Draft = d.Reply
		res.KBHits = len(hits)
	}

	// COMPLETED
	res.Path = append(res.Path, StateCompleted)
	res.Duration = s.now().Sub(start)

	if err := s.store.Complete(ctx, t.ID, &Outcome{
		Status:      res.Status,
		Reply:       res.Reply,
		KBHits:      res.KBHits,
		CompletedAt: s.now().UTC(),
	}); err != nil {
		L.Warn(ctx, "failed to record ticket outcome", "error", err)
	}

	span.SetAttributes(
		attribute.String("triagedesk.ticket.status", string(res.Status)),
		attribute.Int("triagedesk.kb.hits", res.KBHits),
	)
	s.audit.Record(ctx, "triage.finish", audit.LevelInfo, map[string]any{
		"ticket_id":   t.ID,
		"status":      string(res.Status),
		"duration_ms": res.Duration.Milliseconds(),
	})
	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(&CompleteEvent{
			TicketID: t.ID,
			Status:   res.Status,
			Category: res.Category,
			Severity: res.Severity,
			KBHits:   res.KBHits,
			Duration: res.Duration.Seconds(),
		})
	}

	L.Info(ctx, "triage complete",
		"status", res.Status,
		"category", res.Category,
		"severity", res.Severity,
		"kb_hits", res.KBHits,
		"duration", res.Duration,
	)
	return res, nil
}

// settleAborted gives a run that panicked a status consistent with the
// branch it reached. A run that panicked before branching is escalated
// through the Escalator so an EscalationRecord exists for it.
func (s *Service) settleAborted(ctx context.Context, L log.Logger, t *Ticket, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			L.Error(ctx, fmt.Errorf("settle aborted ticket: %v", r), "triage cleanup failed")
		}
	}()

	switch {
	case slices.Contains(res.Path, StateDrafting):
		res.Status = StatusDrafted
	case slices.Contains(res.Path, StateEscalating):
		res.Status = StatusEscalated
	default:
		res.Status = StatusEscalated
		s.escalator.Escalate(ctx, t, "Automatic triage failed")
	}

	if err := s.store.Complete(ctx, t.ID, &Outcome{
		Status:      res.Status,
		Reply:       res.Reply,
		CompletedAt: s.now().UTC(),
	}); err != nil {
		L.Warn(ctx, "failed to record ticket outcome", "error", err)
	}
}

// similar returns up to SimilarLimit prior tickets of category, leaving out
// the ticket being processed.
func (s *Service) similar(ctx context.Context, id string, category Category) ([]*Ticket, error) {
	prior, err := s.store.Similar(ctx, category, SimilarLimit+1)
	if err != nil {
		return nil, err
	}
	out := prior[:0]
	for _, p := range prior {
		if p.ID != id {
			out = append(out, p)
		}
	}
	if len(out) > SimilarLimit {
		out = out[len(out)-SimilarLimit:]
	}
	return out, nil
}

// escalationTrigger reports whether cl must be escalated and why.
func escalationTrigger(cl Classification) (string, bool) {
	switch {
	case cl.Severity == SeverityHigh:
		return TriggerSeverity, true
	case cl.Category == CategoryBillingDispute:
		return TriggerBillingDispute, true
	default:
		return "", false
	}
}

// Get retrieves a stored ticket by ID.
func (s *Service) Get(ctx context.Context, id string) (*Ticket, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns the last limit tickets, optionally filtered by category,
// and the total number of matching tickets.
func (s *Service) List(ctx context.Context, category Category, limit int) ([]*Ticket, int, error) {
	total, err := s.store.Count(ctx, category)
	if err != nil {
		return nil, 0, err
	}
	tickets, err := s.store.List(ctx, category, limit)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// Escalations returns the last limit escalation records.
func (s *Service) Escalations(ctx context.Context, limit int) ([]*EscalationRecord, error) {
	return s.store.Escalations(ctx, limit)
}

// SearchKB runs a knowledge base search outside of a triage run.
func (s *Service) SearchKB(ctx context.Context, query string) []kb.Article {
	hits := s.retriever.Search(query)
	s.audit.Record(ctx, "kb.search", audit.LevelInfo, map[string]any{
		"query": query,
		"hits":  len(hits),
	})
	return hits
}
