// Package storetest holds the behavioral tests every triage.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/triagedesk/internal/triage"
)

// sameInstant compares times by instant; backends differ in location and
// keep microsecond precision at best.
var sameInstant = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Ticket builds a classified ticket for store tests.
func Ticket(id string, category triage.Category) *triage.Ticket {
	return &triage.Ticket{
		ID:           id,
		Description:  "description of " + id,
		UserID:       "user_1",
		Priority:     "medium",
		Category:     category,
		Severity:     triage.SeverityLow,
		Reasoning:    "Feature request or question",
		ClassifiedBy: "rules",
		CreatedAt:    base,
	}
}

// Run exercises a fresh store from newStore against the Store contract.
func Run(t *testing.T, newStore func(t *testing.T) triage.Store) {
	t.Helper()

	t.Run("AddAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := Ticket("t-1", triage.CategoryBilling)
		if err := s.Add(ctx, want); err != nil {
			t.Fatalf("Add: %v", err)
		}
		got, ok, err := s.Get(ctx, "t-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok {
			t.Fatal("expected ticket to be found")
		}
		if diff := cmp.Diff(want, got, sameInstant); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		got, ok, err := s.Get(context.Background(), "nonexistent")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok || got != nil {
			t.Fatalf("Get(nonexistent) = %+v, %v", got, ok)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Add(ctx, Ticket("dup", triage.CategoryOther)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		err := s.Add(ctx, Ticket("dup", triage.CategoryBilling))
		if !errors.Is(err, triage.ErrDuplicateTicket) {
			t.Fatalf("second Add err = %v, want ErrDuplicateTicket", err)
		}
		got, _, _ := s.Get(ctx, "dup")
		if got.Category != triage.CategoryOther {
			t.Errorf("duplicate add overwrote the ticket: %+v", got)
		}
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		in := Ticket("c-1", triage.CategoryOther)
		if err := s.Add(ctx, in); err != nil {
			t.Fatalf("Add: %v", err)
		}
		in.Description = "mutated after add"

		got, _, _ := s.Get(ctx, "c-1")
		got.Description = "mutated after get"

		again, _, _ := s.Get(ctx, "c-1")
		if again.Description != "description of c-1" {
			t.Errorf("stored ticket was mutated: %q", again.Description)
		}
	})

	t.Run("ListOrderAndLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := range 5 {
			if err := s.Add(ctx, Ticket(fmt.Sprintf("l-%d", i), triage.CategoryOther)); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}

		got, err := s.List(ctx, "", 3)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]string{"l-2", "l-3", "l-4"}, ids(got)); diff != "" {
			t.Errorf("List(limit 3) mismatch (-want +got):\n%s", diff)
		}

		all, err := s.List(ctx, "", 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 5 {
			t.Errorf("List(limit 0) = %d tickets, want 5", len(all))
		}
	})

	t.Run("ListEmpty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.List(context.Background(), "", 10)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("List on empty store = %d tickets", len(got))
		}
		n, err := s.Count(context.Background(), "")
		if err != nil || n != 0 {
			t.Errorf("Count = %d, %v", n, err)
		}
	})

	t.Run("CategoryFilterAndCount", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cats := []triage.Category{
			triage.CategoryBilling, triage.CategoryOther, triage.CategoryBilling,
			triage.CategoryTechnical, triage.CategoryBilling,
		}
		for i, c := range cats {
			if err := s.Add(ctx, Ticket(fmt.Sprintf("f-%d", i), c)); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}

		billing, err := s.List(ctx, triage.CategoryBilling, 10)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]string{"f-0", "f-2", "f-4"}, ids(billing)); diff != "" {
			t.Errorf("List(billing) mismatch (-want +got):\n%s", diff)
		}

		similar, err := s.Similar(ctx, triage.CategoryBilling, 2)
		if err != nil {
			t.Fatalf("Similar: %v", err)
		}
		if diff := cmp.Diff([]string{"f-2", "f-4"}, ids(similar)); diff != "" {
			t.Errorf("Similar(billing, 2) mismatch (-want +got):\n%s", diff)
		}

		for cat, want := range map[triage.Category]int{"": 5, triage.CategoryBilling: 3, triage.CategoryTechnical: 1, triage.CategoryAccountAccess: 0} {
			n, err := s.Count(ctx, cat)
			if err != nil {
				t.Fatalf("Count(%q): %v", cat, err)
			}
			if n != want {
				t.Errorf("Count(%q) = %d, want %d", cat, n, want)
			}
		}
	})

	t.Run("Complete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Add(ctx, Ticket("o-1", triage.CategoryOther)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		out := &triage.Outcome{Status: triage.StatusDrafted, Reply: "hello", KBHits: 2, CompletedAt: base.Add(time.Second)}
		if err := s.Complete(ctx, "o-1", out); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		got, _, _ := s.Get(ctx, "o-1")
		if diff := cmp.Diff(out, got.Outcome, sameInstant); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}

		if err := s.Complete(ctx, "missing", out); !errors.Is(err, triage.ErrTicketNotFound) {
			t.Errorf("Complete(missing) err = %v, want ErrTicketNotFound", err)
		}
	})

	t.Run("Escalations", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := range 4 {
			rec := &triage.EscalationRecord{
				ID:        fmt.Sprintf("e-%d", i),
				TicketID:  fmt.Sprintf("t-%d", i),
				Reason:    "High severity or billing dispute detected: Billing issue detected",
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			}
			if err := s.LogEscalation(ctx, rec); err != nil {
				t.Fatalf("LogEscalation: %v", err)
			}
		}

		got, err := s.Escalations(ctx, 2)
		if err != nil {
			t.Fatalf("Escalations: %v", err)
		}
		want := []*triage.EscalationRecord{
			{ID: "e-2", TicketID: "t-2", Reason: "High severity or billing dispute detected: Billing issue detected", Timestamp: base.Add(2 * time.Minute)},
			{ID: "e-3", TicketID: "t-3", Reason: "High severity or billing dispute detected: Billing issue detected", Timestamp: base.Add(3 * time.Minute)},
		}
		if diff := cmp.Diff(want, got, sameInstant); diff != "" {
			t.Errorf("Escalations mismatch (-want +got):\n%s", diff)
		}

		all, _ := s.Escalations(ctx, 0)
		if len(all) != 4 {
			t.Errorf("Escalations(0) = %d, want 4", len(all))
		}
	})

	t.Run("ConcurrentAdds", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.Add(ctx, Ticket(fmt.Sprintf("p-%02d", i), triage.CategoryOther)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent Add: %v", err)
		}
		if got, _ := s.Count(ctx, ""); got != n {
			t.Errorf("Count = %d, want %d", got, n)
		}
	})
}

func ids(ts []*triage.Ticket) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}
