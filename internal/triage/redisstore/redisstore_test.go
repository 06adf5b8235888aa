package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/triagedesk/internal/triage"
	"github.com/linnemanlabs/triagedesk/internal/triage/storetest"
)

var _ triage.Store = (*Store)(nil)

// openStore returns a Store under a fresh key prefix and removes its keys
// when the test ends.
func openStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TRIAGEDESK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TRIAGEDESK_TEST_REDIS_URL not set, skipping integration test")
	}
	ctx := context.Background()
	rdb, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	prefix := "triagedesk-test:" + ulid.Make().String() + ":"
	t.Cleanup(func() {
		iter := rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			rdb.Del(ctx, iter.Val())
		}
		_ = rdb.Close()
	})
	return New(rdb, prefix)
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) triage.Store { return openStore(t) })
}

func TestStartIndex(t *testing.T) {
	t.Parallel()

	tests := map[int]int64{0: 0, -3: 0, 1: -1, 10: -10}
	for limit, want := range tests {
		if got := startIndex(limit); got != want {
			t.Errorf("startIndex(%d) = %d, want %d", limit, got, want)
		}
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	s := New(nil, "")
	if got := s.ticketKey("a"); got != "triagedesk:ticket:a" {
		t.Errorf("ticketKey = %q", got)
	}
	if got := s.listKey(""); got != "triagedesk:tickets" {
		t.Errorf("listKey(all) = %q", got)
	}
	if got := s.listKey(triage.CategoryBilling); got != "triagedesk:tickets:cat:billing" {
		t.Errorf("listKey(billing) = %q", got)
	}
}

func TestDial_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := Dial(context.Background(), "not-a-redis-url"); err == nil {
		t.Fatal("expected error")
	}
}

func TestComplete_Missing(t *testing.T) {
	s := openStore(t)
	err := s.Complete(context.Background(), "nope", &triage.Outcome{Status: triage.StatusDrafted})
	if !errors.Is(err, triage.ErrTicketNotFound) {
		t.Fatalf("err = %v, want ErrTicketNotFound", err)
	}
}
