// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/triagedesk/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists the memory bank in PostgreSQL. Insertion order is the
// BIGSERIAL seq column of each table.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const ticketColumns = `id, description, user_id, priority, category, severity, reasoning,
	classified_by, created_at, status, reply, kb_hits, completed_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Add inserts t. Returns triage.ErrDuplicateTicket if the ID is taken.
func (s *Store) Add(ctx context.Context, t *triage.Ticket) error {
	ctx, span := startSpan(ctx, "pgstore.Add", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`INSERT INTO tickets (id, description, user_id, priority, category, severity, reasoning, classified_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Description, t.UserID, t.Priority, string(t.Category), string(t.Severity),
		t.Reasoning, t.ClassifiedBy, t.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert ticket: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fail(span, triage.ErrDuplicateTicket)
	}

	if t.Outcome != nil {
		if err := completeTx(ctx, tx, t.ID, t.Outcome); err != nil {
			return fail(span, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Get retrieves a ticket by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("query ticket: %w", err))
	}
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, false, fail(span, err)
	}
	if len(tickets) == 0 {
		return nil, false, nil
	}
	return tickets[0], true, nil
}

// Similar returns the last limit tickets in category.
func (s *Store) Similar(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	ctx, span := startSpan(ctx, "pgstore.Similar", "SELECT")
	defer span.End()

	out, err := s.list(ctx, category, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// List returns the last limit tickets, oldest first.
func (s *Store) List(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	out, err := s.list(ctx, category, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (s *Store) list(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM (
			SELECT seq, `+ticketColumns+` FROM tickets
			WHERE $1 = '' OR category = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent ORDER BY seq`,
		string(category), limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	return scanTickets(rows)
}

// Count returns the number of tickets in category, or all when category is empty.
func (s *Store) Count(ctx context.Context, category triage.Category) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.Count", "SELECT")
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tickets WHERE $1 = '' OR category = $1`, string(category),
	).Scan(&n)
	if err != nil {
		return 0, fail(span, fmt.Errorf("count tickets: %w", err))
	}
	return n, nil
}

// Complete records the outcome of a finished run.
func (s *Store) Complete(ctx context.Context, id string, out *triage.Outcome) error {
	ctx, span := startSpan(ctx, "pgstore.Complete", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := completeTx(ctx, tx, id, out); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func completeTx(ctx context.Context, tx pgx.Tx, id string, out *triage.Outcome) error {
	var completedAt *time.Time
	if !out.CompletedAt.IsZero() {
		completedAt = &out.CompletedAt
	}
	tag, err := tx.Exec(ctx,
		`UPDATE tickets SET status = $2, reply = $3, kb_hits = $4, completed_at = $5 WHERE id = $1`,
		id, string(out.Status), out.Reply, out.KBHits, completedAt,
	)
	if err != nil {
		return fmt.Errorf("update ticket outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrTicketNotFound
	}
	return nil
}

// LogEscalation appends rec.
func (s *Store) LogEscalation(ctx context.Context, rec *triage.EscalationRecord) error {
	ctx, span := startSpan(ctx, "pgstore.LogEscalation", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO escalations (id, ticket_id, reason, created_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.TicketID, rec.Reason, rec.Timestamp,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert escalation: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Escalations returns the last limit escalation records, oldest first.
func (s *Store) Escalations(ctx context.Context, limit int) ([]*triage.EscalationRecord, error) {
	ctx, span := startSpan(ctx, "pgstore.Escalations", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, ticket_id, reason, created_at FROM (
			SELECT seq, id, ticket_id, reason, created_at FROM escalations
			ORDER BY seq DESC
			LIMIT $1
		) recent ORDER BY seq`,
		limitArg(limit),
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query escalations: %w", err))
	}
	defer rows.Close()

	out := make([]*triage.EscalationRecord, 0)
	for rows.Next() {
		var r triage.EscalationRecord
		if err := rows.Scan(&r.ID, &r.TicketID, &r.Reason, &r.Timestamp); err != nil {
			return nil, fail(span, fmt.Errorf("scan escalation: %w", err))
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate escalations: %w", err))
	}
	return out, nil
}

// limitArg maps a non-positive limit to NULL, which LIMIT treats as ALL.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// scanTickets drains rows into tickets. The outcome is attached only when
// the run has completed.
func scanTickets(rows pgx.Rows) ([]*triage.Ticket, error) {
	defer rows.Close()

	out := make([]*triage.Ticket, 0)
	for rows.Next() {
		var (
			t           triage.Ticket
			category    string
			severity    string
			status      *string
			reply       *string
			kbHits      *int
			completedAt *time.Time
		)
		err := rows.Scan(
			&t.ID, &t.Description, &t.UserID, &t.Priority, &category, &severity, &t.Reasoning,
			&t.ClassifiedBy, &t.CreatedAt, &status, &reply, &kbHits, &completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.Category = triage.Category(category)
		t.Severity = triage.Severity(severity)
		t.CreatedAt = t.CreatedAt.UTC()

		if status != nil {
			o := &triage.Outcome{Status: triage.Status(*status)}
			if reply != nil {
				o.Reply = *reply
			}
			if kbHits != nil {
				o.KBHits = *kbHits
			}
			if completedAt != nil {
				o.CompletedAt = completedAt.UTC()
			}
			t.Outcome = o
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return out, nil
}
