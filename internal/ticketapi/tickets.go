package ticketapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagedesk/internal/triage"
)

// ticketRequest is the body of POST /api/v1/tickets.
type ticketRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	UserID      string `json:"user_id"`
	Priority    string `json:"priority"`
}

// ticketResponse is the body of a successful POST /api/v1/tickets.
type ticketResponse struct {
	OK               bool            `json:"ok"`
	TicketID         string          `json:"ticket_id"`
	Status           triage.Status   `json:"status"`
	Reply            string          `json:"reply"`
	Draft            *triage.Reply   `json:"draft,omitempty"`
	KBHits           int             `json:"kb_hits"`
	Category         triage.Category `json:"category"`
	Severity         triage.Severity `json:"severity"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
}

func (a *API) handleProcessTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"ok":false,"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	res, err := a.svc.Process(r.Context(), &triage.Ticket{
		ID:          req.ID,
		Description: req.Description,
		UserID:      req.UserID,
		Priority:    req.Priority,
	})
	switch {
	case errors.Is(err, triage.ErrDuplicateTicket):
		http.Error(w, `{"ok":false,"error":"duplicate ticket id"}`, http.StatusConflict)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to process ticket", "id", req.ID)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triagedesk.ticket.id", res.TicketID),
		attribute.String("triagedesk.ticket.status", string(res.Status)),
	)

	writeJSON(w, http.StatusOK, &ticketResponse{
		OK:               true,
		TicketID:         res.TicketID,
		Status:           res.Status,
		Reply:            res.Reply,
		Draft:            res.Draft,
		KBHits:           res.KBHits,
		Category:         res.Category,
		Severity:         res.Severity,
		ProcessingTimeMS: res.Duration.Milliseconds(),
	})
}
