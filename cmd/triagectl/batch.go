package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagedesk/internal/app"
	"github.com/linnemanlabs/triagedesk/internal/triage"
)

// batchTicket is a canned ticket and the status it should end in.
type batchTicket struct {
	Description string
	Expected    triage.Status
}

// batchTickets covers every category, the noisy and empty edge cases and a
// secret-bearing ticket.
var batchTickets = []batchTicket{
	{"How do I enable dark mode?", triage.StatusDrafted},
	{"My app crashes when I open it on Android", triage.StatusDrafted},

	{"I was charged twice for my subscription!", triage.StatusEscalated},
	{"Double charge on my credit card", triage.StatusEscalated},
	{"Refund request for duplicate payment", triage.StatusEscalated},

	{"I cannot login to my account", triage.StatusEscalated},
	{"Password reset not working", triage.StatusEscalated},
	{"Account locked out", triage.StatusEscalated},

	{"Video player is not working", triage.StatusEscalated},
	{"App crashes on startup", triage.StatusEscalated},

	{"I want to cancel my subscription", triage.StatusDrafted},
	{"How do I change my email address?", triage.StatusDrafted},
	{"Where can I find my invoice?", triage.StatusDrafted},

	{"What is the capital of France?", triage.StatusDrafted},
	{"😡😡😡😡😡", triage.StatusEscalated},
	{"", triage.StatusDrafted},

	{"hEy I CnNt lgIn 2 MY AccOunt plz fixxx ???!!", triage.StatusEscalated},
	{"video player not wrking maybe my device sucks idk", triage.StatusEscalated},

	{"My API key AIzaSyDbX3FakeFakeFakeFakeFakeFakeKey is not working", triage.StatusEscalated},

	{"I have been trying to access my account for the past 3 days but every time I enter my password it says incorrect even though I know it's right. I tried resetting it multiple times but the email never arrives. This is very frustrating and I need access urgently for work. Please help!", triage.StatusEscalated},
}

// batchEntry is one processed ticket in the report.
type batchEntry struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Status      triage.Status `json:"status,omitempty"`
	Expected    triage.Status `json:"expected"`
	Match       bool          `json:"match"`
	Error       string        `json:"error,omitempty"`
}

// batchReport is the summary of a batch run.
type batchReport struct {
	Total     int          `json:"total"`
	Drafted   int          `json:"drafted"`
	Escalated int          `json:"escalated"`
	Errors    int          `json:"errors"`
	Elapsed   float64      `json:"elapsed_seconds"`
	Tickets   []batchEntry `json:"tickets"`
}

// Mismatches lists entries whose status differed from the expectation.
func (r *batchReport) Mismatches() []batchEntry {
	var out []batchEntry
	for _, e := range r.Tickets {
		if !e.Match {
			out = append(out, e)
		}
	}
	return out
}

func init() {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process a fixed, diverse ticket set as a stress run",
		Args:  cobra.NoArgs,
		RunE:  runBatch,
	}

	cmd.Flags().IntP("count", "n", 30, "Number of tickets to process")
	cmd.Flags().Duration("delay", 0, "Pause between tickets")
	cmd.Flags().String("report", "", "Write the JSON report to this file")

	RootCmd.AddCommand(cmd)
}

func runBatch(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")
	delay, _ := cmd.Flags().GetDuration("delay")
	reportPath, _ := cmd.Flags().GetString("report")
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Batch ticket processing: %d tickets\n\n", count)

		rep := runBatchTickets(ctx, out, a.Service, count, delay)
		printBatchSummary(out, rep, count)

		if reportPath != "" {
			b, _ := json.MarshalIndent(rep, "", "  ")
			if err := os.WriteFile(reportPath, b, 0o600); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(out, "\nResults saved to %s\n", reportPath)
		}
		return nil
	})
}

// ticketProcessor is the part of the service a batch run needs.
type ticketProcessor interface {
	Process(ctx context.Context, t *triage.Ticket) (*triage.Result, error)
}

// runBatchTickets cycles batchTickets until count tickets were processed.
// IDs carry a per-run tag so repeated runs against a persistent store do
// not collide.
func runBatchTickets(ctx context.Context, w io.Writer, svc ticketProcessor, count int, delay time.Duration) *batchReport {
	run := strings.ToLower(ulid.Make().String()[20:])
	rep := &batchReport{Tickets: make([]batchEntry, 0, count)}
	start := time.Now()

	for i := range count {
		if ctx.Err() != nil {
			break
		}
		tpl := batchTickets[i%len(batchTickets)]
		t := &triage.Ticket{
			ID:          fmt.Sprintf("batch_%s_%03d", run, i+1),
			Description: tpl.Description,
			UserID:      fmt.Sprintf("user_%d", (i%10)+1),
		}
		entry := batchEntry{ID: t.ID, Description: preview(tpl.Description, 50), Expected: tpl.Expected}
		fmt.Fprintf(w, "[%d/%d] Processing: %s\n", i+1, count, entry.Description)

		res, err := svc.Process(ctx, t)
		switch {
		case err != nil:
			rep.Errors++
			entry.Error = err.Error()
			fmt.Fprintf(w, "  x error: %v\n", err)
		case res.Status == triage.StatusDrafted:
			rep.Drafted++
		case res.Status == triage.StatusEscalated:
			rep.Escalated++
		default:
			rep.Errors++
		}
		if err == nil {
			rep.Total++
			entry.Status = res.Status
			entry.Match = res.Status == tpl.Expected
			fmt.Fprintf(w, "  status: %s\n", res.Status)
		}
		rep.Tickets = append(rep.Tickets, entry)

		if delay > 0 && i < count-1 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}
	rep.Elapsed = time.Since(start).Seconds()
	return rep
}

func printBatchSummary(w io.Writer, rep *batchReport, count int) {
	mismatches := rep.Mismatches()
	fmt.Fprintf(w, "\nBatch Processing Summary\n")
	fmt.Fprintf(w, "Total Tickets:    %d\n", rep.Total)
	fmt.Fprintf(w, "Drafted:          %d\n", rep.Drafted)
	fmt.Fprintf(w, "Escalated:        %d\n", rep.Escalated)
	fmt.Fprintf(w, "Errors:           %d\n", rep.Errors)
	fmt.Fprintf(w, "Time Elapsed:     %.2fs\n", rep.Elapsed)
	fmt.Fprintf(w, "Avg Time/Ticket:  %.3fs\n", rep.Elapsed/float64(count))
	fmt.Fprintf(w, "Accuracy:         %.1f%%\n", 100*float64(count-len(mismatches))/float64(count))
	for _, m := range mismatches {
		got := string(m.Status)
		if m.Error != "" {
			got = "error"
		}
		fmt.Fprintf(w, "  mismatch %s: got %s, expected %s (%s)\n", m.ID, got, m.Expected, m.Description)
	}
}

// preview shortens s to n runes for display.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
