package ticketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/kb"
	"github.com/linnemanlabs/triagedesk/internal/triage"
	"github.com/linnemanlabs/triagedesk/internal/triage/memstore"
)

var testArticles = []kb.Article{
	{ID: "kb_001", Title: "Reset your password", Content: "Use the forgot password link on the login page."},
	{ID: "kb_004", Title: "Enable dark mode", Content: "Go to Settings > Display and choose Dark."},
}

// newTestService wires an offline service: rule classification and no
// generative backend.
func newTestService(t *testing.T) *triage.Service {
	t.Helper()
	store := memstore.New()
	drafter := triage.NewDrafter(nil, nil, 0, nil, nil, triage.Hooks{})
	esc := triage.NewEscalator(store, nil, nil, nil)
	return triage.NewService(store, triage.RuleClassifier{}, kb.New(testArticles), drafter, esc, nil, nil, triage.Hooks{})
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, newTestService(t)).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newTestService(t))
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_WithLogger(t *testing.T) {
	t.Parallel()

	api := New(log.Nop(), newTestService(t))
	if api == nil || api.logger == nil {
		t.Fatal("New(logger, svc) returned incomplete API")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"POST ticket", http.MethodPost, "/api/v1/tickets", `{"description":"How do I enable dark mode?"}`, http.StatusOK},
		{"POST invalid JSON", http.MethodPost, "/api/v1/tickets", `{bad`, http.StatusBadRequest},
		{"GET list", http.MethodGet, "/api/v1/tickets", "", http.StatusOK},
		{"GET missing ticket", http.MethodGet, "/api/v1/tickets/nope", "", http.StatusNotFound},
		{"GET escalations", http.MethodGet, "/api/v1/escalations", "", http.StatusOK},
		{"GET kb search", http.MethodGet, "/api/v1/kb/search?q=dark", "", http.StatusOK},
		{"PUT tickets not allowed", http.MethodPut, "/api/v1/tickets", "", http.StatusMethodNotAllowed},
		{"DELETE ticket not allowed", http.MethodDelete, "/api/v1/tickets/abc", "", http.StatusMethodNotAllowed},
		{"POST escalations not allowed", http.MethodPost, "/api/v1/escalations", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)

	for _, path := range []string{"/", "/api/v1", "/api/v2/tickets", "/api/v1/kb", "/api/v1/unknown"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodGet, path, "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

// Ticket processing

func TestProcessTicket_Drafted(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := do(t, r, http.MethodPost, "/api/v1/tickets", `{"id":"T-1","description":"How do I enable dark mode?","user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}

	var resp ticketResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.TicketID != "T-1" || resp.Status != triage.StatusDrafted {
		t.Errorf("response = %+v", resp)
	}
	if resp.Category != triage.CategoryFeatureRequest || resp.Severity != triage.SeverityLow {
		t.Errorf("classification = %s/%s", resp.Category, resp.Severity)
	}
	if resp.KBHits != 1 {
		t.Errorf("kb_hits = %d, want 1", resp.KBHits)
	}
	// no backend configured
	if resp.Draft == nil || resp.Draft.Action != triage.ActionError {
		t.Errorf("draft = %+v, want missing-credential reply", resp.Draft)
	}
}

func TestProcessTicket_Escalated(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := do(t, r, http.MethodPost, "/api/v1/tickets", `{"id":"T-2","description":"I was charged twice!"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode(t, rec)
	if resp["status"] != string(triage.StatusEscalated) {
		t.Errorf("status = %v", resp["status"])
	}
	if reply, _ := resp["reply"].(string); !strings.Contains(reply, triage.EscalationMarker) {
		t.Errorf("reply = %q", reply)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/escalations", "")
	resp = decode(t, rec)
	escs, _ := resp["escalations"].([]any)
	if len(escs) != 1 || resp["total"] != float64(1) {
		t.Fatalf("escalations = %v", resp)
	}
	if id := escs[0].(map[string]any)["ticket_id"]; id != "T-2" {
		t.Errorf("escalation ticket_id = %v", id)
	}
}

func TestProcessTicket_GeneratesID(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	resp := decode(t, do(t, r, http.MethodPost, "/api/v1/tickets", `{"description":"hello"}`))
	id, _ := resp["ticket_id"].(string)
	if id == "" {
		t.Fatal("empty ticket_id")
	}

	rec := do(t, r, http.MethodGet, "/api/v1/tickets/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET generated id = %d", rec.Code)
	}
	ticket := decode(t, rec)["ticket"].(map[string]any)
	if ticket["user_id"] != "unknown" {
		t.Errorf("user_id = %v, want unknown", ticket["user_id"])
	}
}

func TestProcessTicket_Duplicate(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	body := `{"id":"dup","description":"hello"}`
	if rec := do(t, r, http.MethodPost, "/api/v1/tickets", body); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	rec := do(t, r, http.MethodPost, "/api/v1/tickets", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second = %d, want 409", rec.Code)
	}
	if decode(t, rec)["ok"] != false {
		t.Error("ok != false on conflict")
	}
}

type failingService struct{}

func (failingService) Process(context.Context, *triage.Ticket) (*triage.Result, error) {
	return nil, errors.New("store offline")
}

func (failingService) Get(context.Context, string) (*triage.Ticket, bool, error) {
	return nil, false, errors.New("store offline")
}

func (failingService) List(context.Context, triage.Category, int) ([]*triage.Ticket, int, error) {
	return nil, 0, errors.New("store offline")
}

func (failingService) Escalations(context.Context, int) ([]*triage.EscalationRecord, error) {
	return nil, errors.New("store offline")
}

func (failingService) SearchKB(context.Context, string) []kb.Article { return nil }

func TestServiceErrors(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	New(nil, failingService{}).RegisterRoutes(r)

	rec := do(t, r, http.MethodPost, "/api/v1/tickets", `{"description":"x"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("POST = %d, want 500", rec.Code)
	}
	want := map[string]any{"ok": false, "error": "store offline"}
	if diff := cmp.Diff(want, decode(t, rec)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	for _, path := range []string{"/api/v1/tickets/x", "/api/v1/tickets", "/api/v1/escalations"} {
		if rec := do(t, r, http.MethodGet, path, ""); rec.Code != http.StatusInternalServerError {
			t.Errorf("GET %s = %d, want 500", path, rec.Code)
		}
	}
}

// Listing

func TestListTickets(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	descs := []string{
		"How do I enable dark mode?",
		"I cannot login to my account",
		"How do I export data?",
		"What is the capital of France?",
	}
	for i, d := range descs {
		body := fmt.Sprintf(`{"id":"L-%d","description":%q}`, i, d)
		if rec := do(t, r, http.MethodPost, "/api/v1/tickets", body); rec.Code != http.StatusOK {
			t.Fatalf("seed %d = %d", i, rec.Code)
		}
	}

	ids := func(resp map[string]any) []string {
		var out []string
		for _, tk := range resp["tickets"].([]any) {
			out = append(out, tk.(map[string]any)["id"].(string))
		}
		return out
	}

	tests := []struct {
		name  string
		query string
		total float64
		ids   []string
	}{
		{"default", "", 4, []string{"L-0", "L-1", "L-2", "L-3"}},
		{"limit keeps newest", "?limit=2", 4, []string{"L-2", "L-3"}},
		{"limit zero is all", "?limit=0", 4, []string{"L-0", "L-1", "L-2", "L-3"}},
		{"category", "?category=feature_request", 2, []string{"L-0", "L-2"}},
		{"category case-insensitive", "?category=ACCOUNT_ACCESS", 1, []string{"L-1"}},
		{"empty category", "?category=billing", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodGet, "/api/v1/tickets"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			resp := decode(t, rec)
			if resp["total"] != tt.total {
				t.Errorf("total = %v, want %v", resp["total"], tt.total)
			}
			if diff := cmp.Diff(tt.ids, ids(resp)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListTickets_BadQuery(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	for _, q := range []string{"?limit=-1", "?limit=ten", "?category=weather"} {
		if rec := do(t, r, http.MethodGet, "/api/v1/tickets"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", q, rec.Code)
		}
	}
	if rec := do(t, r, http.MethodGet, "/api/v1/escalations?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("escalations bad limit = %d, want 400", rec.Code)
	}
}

func TestListEmpty(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	for path, key := range map[string]string{"/api/v1/tickets": "tickets", "/api/v1/escalations": "escalations"} {
		resp := decode(t, do(t, r, http.MethodGet, path, ""))
		if list, ok := resp[key].([]any); !ok || len(list) != 0 {
			t.Errorf("%s %s = %v, want empty array", path, key, resp[key])
		}
	}
}

func TestSearchKB(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)

	resp := decode(t, do(t, r, http.MethodGet, "/api/v1/kb/search?q=dark+mode", ""))
	if resp["query"] != "dark mode" {
		t.Errorf("query = %v", resp["query"])
	}
	hits := resp["hits"].([]any)
	if len(hits) != 1 || hits[0].(map[string]any)["id"] != "kb_004" {
		t.Errorf("hits = %v", hits)
	}

	resp = decode(t, do(t, r, http.MethodGet, "/api/v1/kb/search?q=zzzz", ""))
	if hits, ok := resp["hits"].([]any); !ok || len(hits) != 0 {
		t.Errorf("hits = %v, want empty array", resp["hits"])
	}
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  int
		ok    bool
	}{
		{"", DefaultLimit, true},
		{"limit=3", 3, true},
		{"limit=0", 0, true},
		{"limit=-3", 0, false},
		{"limit=abc", 0, false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, http.NoBody)
		got, ok := parseLimit(req)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseLimit(%q) = %d, %v; want %d, %v", tt.query, got, ok, tt.want, tt.ok)
		}
	}
}

// Fuzz

func FuzzProcessTicket(f *testing.F) {
	r := chi.NewRouter()
	store := memstore.New()
	svc := triage.NewService(store, nil, kb.New(testArticles),
		triage.NewDrafter(nil, nil, 0, nil, nil, triage.Hooks{}),
		triage.NewEscalator(store, nil, nil, nil), nil, nil, triage.Hooks{})
	New(nil, svc).RegisterRoutes(r)

	seeds := []string{
		"",
		"{}",
		`{"description":"I was charged twice"}`,
		`{"id":"x","description":"dark mode","priority":"high"}`,
		"{invalid json",
		"\x00\x01\x02\xff\xfe",
		`{"description":123}`,
		strings.Repeat("a", 10000),
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, body []byte) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK, http.StatusBadRequest, http.StatusConflict:
		default:
			t.Errorf("POST /api/v1/tickets with body len=%d = %d", len(body), rec.Code)
		}
	})
}
