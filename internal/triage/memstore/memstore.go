// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/triagedesk/internal/triage"
)

// Store holds the memory bank in process memory. Suitable for dev/testing
// and offline CLI runs; nothing survives a restart.
type Store struct {
	mu          sync.RWMutex
	tickets     []*triage.Ticket
	byID        map[string]int // ticket ID -> index into tickets
	escalations []*triage.EscalationRecord
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{byID: make(map[string]int)}
}

// Add appends a copy of t. Returns triage.ErrDuplicateTicket if the ID is taken.
func (s *Store) Add(_ context.Context, t *triage.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; ok {
		return triage.ErrDuplicateTicket
	}
	s.byID[t.ID] = len(s.tickets)
	s.tickets = append(s.tickets, t.Clone())
	return nil
}

// Get retrieves a ticket by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	return s.tickets[i].Clone(), true, nil
}

// Similar returns copies of the last limit tickets in category.
func (s *Store) Similar(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	return s.List(ctx, category, limit)
}

// List returns copies of the last limit tickets, oldest first.
func (s *Store) List(_ context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.Ticket, 0)
	for _, t := range s.tickets {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	out = tail(out, limit)
	for i, t := range out {
		out[i] = t.Clone()
	}
	return out, nil
}

// Count returns the number of tickets in category, or all when category is empty.
func (s *Store) Count(_ context.Context, category triage.Category) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if category == "" {
		return len(s.tickets), nil
	}
	n := 0
	for _, t := range s.tickets {
		if t.Category == category {
			n++
		}
	}
	return n, nil
}

// Complete records the outcome of a finished run.
func (s *Store) Complete(_ context.Context, id string, out *triage.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return triage.ErrTicketNotFound
	}
	cp := *out
	s.tickets[i].Outcome = &cp
	return nil
}

// LogEscalation appends a copy of rec.
func (s *Store) LogEscalation(_ context.Context, rec *triage.EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.escalations = append(s.escalations, &cp)
	return nil
}

// Escalations returns copies of the last limit escalation records.
func (s *Store) Escalations(_ context.Context, limit int) ([]*triage.EscalationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := tail(s.escalations, limit)
	out := make([]*triage.EscalationRecord, len(src))
	for i, r := range src {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// tail returns the last n elements of s; n <= 0 means all.
func tail[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
