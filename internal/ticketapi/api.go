// Package ticketapi exposes the triage service over HTTP.
package ticketapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagedesk/internal/kb"
	"github.com/linnemanlabs/triagedesk/internal/triage"
)

// DefaultLimit is the page size of list endpoints without ?limit.
const DefaultLimit = 10

// TriageService defines the business operations ticketapi needs.
type TriageService interface {
	Process(ctx context.Context, t *triage.Ticket) (*triage.Result, error)
	Get(ctx context.Context, id string) (*triage.Ticket, bool, error)
	List(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, int, error)
	Escalations(ctx context.Context, limit int) ([]*triage.EscalationRecord, error)
	SearchKB(ctx context.Context, query string) []kb.Article
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tickets", a.handleProcessTicket)
		r.Get("/tickets", a.handleListTickets)
		r.Get("/tickets/{id}", a.handleGetTicket)
		r.Get("/escalations", a.handleListEscalations)
		r.Get("/kb/search", a.handleSearchKB)
	})
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("triagedesk.ticket.id", id))

	t, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get ticket", "id", id)
		http.Error(w, `{"ok":false,"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"ok":false,"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ticket": t})
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		http.Error(w, `{"ok":false,"error":"invalid limit"}`, http.StatusBadRequest)
		return
	}

	var category triage.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, ok := triage.ParseCategory(raw)
		if !ok {
			http.Error(w, `{"ok":false,"error":"unknown category"}`, http.StatusBadRequest)
			return
		}
		category = c
	}

	tickets, total, err := a.svc.List(r.Context(), category, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list tickets", "category", category)
		http.Error(w, `{"ok":false,"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tickets == nil {
		tickets = []*triage.Ticket{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "total": total, "tickets": tickets})
}

func (a *API) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		http.Error(w, `{"ok":false,"error":"invalid limit"}`, http.StatusBadRequest)
		return
	}

	escs, err := a.svc.Escalations(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list escalations")
		http.Error(w, `{"ok":false,"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if escs == nil {
		escs = []*triage.EscalationRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "total": len(escs), "escalations": escs})
}

func (a *API) handleSearchKB(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	hits := a.svc.SearchKB(r.Context(), q)
	if hits == nil {
		hits = []kb.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "query": q, "hits": hits})
}

// parseLimit reads ?limit, defaulting to DefaultLimit. 0 means everything.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
