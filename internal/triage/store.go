package triage

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateTicket is returned by Store.Add when the id is taken.
	ErrDuplicateTicket = errors.New("duplicate ticket id")

	// ErrTicketNotFound is returned by Store.Complete for unknown ids.
	ErrTicketNotFound = errors.New("ticket not found")
)

// SimilarLimit is how many prior tickets are handed to the drafter.
const SimilarLimit = 3

// Store is the memory bank: processed tickets and escalations, both in
// insertion order. Lookups by id return the stored record or ok=false.
// Implementations return copies and must be safe for concurrent use.
type Store interface {
	Add(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, bool, error)
	// Similar returns the last limit tickets of category, oldest first.
	Similar(ctx context.Context, category Category, limit int) ([]*Ticket, error)
	// List returns the last limit tickets, filtered by category when set.
	List(ctx context.Context, category Category, limit int) ([]*Ticket, error)
	// Count returns how many tickets match category ("" counts all).
	Count(ctx context.Context, category Category) (int, error)
	Complete(ctx context.Context, id string, out *Outcome) error
	LogEscalation(ctx context.Context, rec *EscalationRecord) error
	// Escalations returns the last limit escalation records, oldest first.
	Escalations(ctx context.Context, limit int) ([]*EscalationRecord, error)
}
