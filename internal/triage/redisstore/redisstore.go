// Package redisstore provides a Redis implementation of triage.Store.
//
// Layout, under a configurable key prefix:
//
//	ticket:<id>            JSON ticket
//	tickets                list of ticket ids in insertion order
//	tickets:cat:<category> same, per category
//	escalations            list of JSON escalation records
//
// Read-modify-write operations run as WATCH/MULTI transactions and retry
// when another writer touched the watched key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagedesk/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/triage/redisstore")

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "triagedesk:"

const maxTxRetries = 10

var errTxConflict = errors.New("redis transaction kept conflicting")

// Store persists the memory bank in Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Dial parses redisURL, connects and pings.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// New returns a Store on rdb. An empty prefix means DefaultPrefix. The
// caller owns the client.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) ticketKey(id string) string { return s.prefix + "ticket:" + id }
func (s *Store) allKey() string             { return s.prefix + "tickets" }
func (s *Store) escalationsKey() string     { return s.prefix + "escalations" }

func (s *Store) listKey(category triage.Category) string {
	if category == "" {
		return s.allKey()
	}
	return s.prefix + "tickets:cat:" + string(category)
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// watch runs fn as an optimistic transaction on keys, retrying on conflict.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errTxConflict
}

// Add stores t. Returns triage.ErrDuplicateTicket if the ID is taken.
func (s *Store) Add(ctx context.Context, t *triage.Ticket) error {
	ctx, span := startSpan(ctx, "redisstore.Add", "MULTI")
	defer span.End()

	raw, err := json.Marshal(t)
	if err != nil {
		return fail(span, fmt.Errorf("marshal ticket: %w", err))
	}
	key := s.ticketKey(t.ID)

	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return triage.ErrDuplicateTicket
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, raw, 0)
			p.RPush(ctx, s.allKey(), t.ID)
			if t.Category != "" {
				p.RPush(ctx, s.listKey(t.Category), t.ID)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fail(span, err)
	}
	return nil
}

// Get retrieves a ticket by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "redisstore.Get", "GET")
	defer span.End()

	raw, err := s.rdb.Get(ctx, s.ticketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get ticket: %w", err))
	}
	var t triage.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal ticket %s: %w", id, err))
	}
	return &t, true, nil
}

// Similar returns the last limit tickets in category.
func (s *Store) Similar(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	ctx, span := startSpan(ctx, "redisstore.Similar", "LRANGE")
	defer span.End()

	out, err := s.list(ctx, category, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// List returns the last limit tickets, oldest first.
func (s *Store) List(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	ctx, span := startSpan(ctx, "redisstore.List", "LRANGE")
	defer span.End()

	out, err := s.list(ctx, category, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (s *Store) list(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	ids, err := s.rdb.LRange(ctx, s.listKey(category), startIndex(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list ticket ids: %w", err)
	}
	out := make([]*triage.Ticket, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.ticketKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get tickets: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// id listed but body gone; skip it
			continue
		}
		var t triage.Ticket
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, fmt.Errorf("unmarshal ticket %s: %w", ids[i], err)
		}
		out = append(out, &t)
	}
	return out, nil
}

// Count returns the number of tickets in category, or all when category is empty.
func (s *Store) Count(ctx context.Context, category triage.Category) (int, error) {
	ctx, span := startSpan(ctx, "redisstore.Count", "LLEN")
	defer span.End()

	n, err := s.rdb.LLen(ctx, s.listKey(category)).Result()
	if err != nil {
		return 0, fail(span, fmt.Errorf("count tickets: %w", err))
	}
	return int(n), nil
}

// Complete records the outcome of a finished run.
func (s *Store) Complete(ctx context.Context, id string, out *triage.Outcome) error {
	ctx, span := startSpan(ctx, "redisstore.Complete", "MULTI")
	defer span.End()

	key := s.ticketKey(id)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return triage.ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		var t triage.Ticket
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("unmarshal ticket %s: %w", id, err)
		}
		o := *out
		t.Outcome = &o
		updated, err := json.Marshal(&t)
		if err != nil {
			return fmt.Errorf("marshal ticket: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fail(span, err)
	}
	return nil
}

// LogEscalation appends rec.
func (s *Store) LogEscalation(ctx context.Context, rec *triage.EscalationRecord) error {
	ctx, span := startSpan(ctx, "redisstore.LogEscalation", "RPUSH")
	defer span.End()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fail(span, fmt.Errorf("marshal escalation: %w", err))
	}
	if err := s.rdb.RPush(ctx, s.escalationsKey(), raw).Err(); err != nil {
		return fail(span, fmt.Errorf("append escalation: %w", err))
	}
	return nil
}

// Escalations returns the last limit escalation records, oldest first.
func (s *Store) Escalations(ctx context.Context, limit int) ([]*triage.EscalationRecord, error) {
	ctx, span := startSpan(ctx, "redisstore.Escalations", "LRANGE")
	defer span.End()

	vals, err := s.rdb.LRange(ctx, s.escalationsKey(), startIndex(limit), -1).Result()
	if err != nil {
		return nil, fail(span, fmt.Errorf("list escalations: %w", err))
	}
	out := make([]*triage.EscalationRecord, 0, len(vals))
	for _, v := range vals {
		var r triage.EscalationRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal escalation: %w", err))
		}
		out = append(out, &r)
	}
	return out, nil
}

// startIndex is the LRANGE start for the last limit entries; 0 means all.
func startIndex(limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return -int64(limit)
}
