package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/triagedesk/internal/audit"
	"github.com/linnemanlabs/triagedesk/internal/redact"
)

// EscalationMarker appears in every escalation confirmation.
const EscalationMarker = "ESCALATED"

// Notifier delivers escalations to humans.
type Notifier interface {
	NotifyEscalation(ctx context.Context, t *Ticket, rec *EscalationRecord) error
}

// Escalator records escalation decisions. It is best-effort: persistence
// and notification failures are logged, and a confirmation is always
// returned.
type Escalator struct {
	store    Store
	notifier Notifier
	audit    audit.Recorder
	logger   log.Logger
	now      func() time.Time
}

// NewEscalator creates an Escalator. notifier may be nil.
func NewEscalator(store Store, notifier Notifier, rec audit.Recorder, logger log.Logger) *Escalator {
	if logger == nil {
		logger = log.Nop()
	}
	if rec == nil {
		rec = audit.Discard(logger)
	}
	return &Escalator{
		store:    store,
		notifier: notifier,
		audit:    rec,
		logger:   logger,
		now:      time.Now,
	}
}

// Escalate appends an EscalationRecord for t and returns the confirmation
// text shown to the caller. Secrets in reason are redacted first.
func (e *Escalator) Escalate(ctx context.Context, t *Ticket, reason string) string {
	reason = redact.Secrets(reason)
	rec := &EscalationRecord{
		ID:        ulid.Make().String(),
		TicketID:  t.ID,
		Reason:    reason,
		Timestamp: e.now().UTC(),
	}

	e.audit.Record(ctx, "escalation.triggered", audit.LevelWarning, map[string]any{
		"ticket_id": t.ID,
		"reason":    reason,
	})

	if err := e.store.LogEscalation(ctx, rec); err != nil {
		e.logger.Error(ctx, err, "failed to persist escalation", "ticket_id", t.ID)
		e.audit.Record(ctx, "escalation.error", audit.LevelError, map[string]any{
			"ticket_id": t.ID,
			"error":     err.Error(),
		})
	}

	if e.notifier != nil {
		if err := e.notifier.NotifyEscalation(ctx, t, rec); err != nil {
			e.logger.Error(ctx, err, "escalation notification failed", "ticket_id", t.ID)
		}
	}

	return fmt.Sprintf("Ticket %s has been %s to Tier 2 Support. Reason: %s. Context saved.", t.ID, EscalationMarker, reason)
}
