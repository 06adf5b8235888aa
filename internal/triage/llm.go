// internal/triage/llm.go
package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagedesk/internal/redact"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/triage")

var (
	// ErrMissingCredential means no generative-text backend is configured.
	ErrMissingCredential = errors.New("generative text capability not configured")

	// ErrCapability wraps transient failures of an external capability.
	ErrCapability = errors.New("capability failure")
)

// Provider is the interface for any generative-text backend.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is a single-prompt completion request.
type LLMRequest struct {
	MaxTokens int
	System    string
	Prompt    string
}

// LLMResponse is the text produced for an LLMRequest plus accounting.
type LLMResponse struct {
	Text       string
	StopReason string
	Usage      Usage
	Model      string
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Purposes label LLM calls in spans and metrics.
const (
	PurposeClassify = "classify"
	PurposeDraft    = "draft"
)

var errEmptyResponse = errors.New("provider returned no response")

// callLLM sends req inside an llm.call span and reports the call to hooks.
// A nil provider is reported as ErrMissingCredential without a span.
func callLLM(ctx context.Context, p Provider, hooks Hooks, ticketID, purpose string, req *LLMRequest) (*LLMResponse, error) {
	if p == nil {
		return nil, ErrMissingCredential
	}

	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("triagedesk.ticket.id", ticketID),
		attribute.String("triagedesk.llm.purpose", purpose),
		attribute.Int("gen_ai.request.max_tokens", req.MaxTokens),
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.String("prompt", redact.String(req.Prompt)),
	))

	start := time.Now()
	resp, err := p.Send(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err == nil && resp == nil {
		err = errEmptyResponse
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if hooks.OnLLMCall != nil {
			hooks.OnLLMCall(purpose, "error", 0, 0, elapsed)
		}
		if errors.Is(err, ErrMissingCredential) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCapability, err)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.String("stop_reason", resp.StopReason),
		attribute.String("text", redact.String(resp.Text)),
	))

	if hooks.OnLLMCall != nil {
		hooks.OnLLMCall(purpose, "success", resp.Usage.InputTokens, resp.Usage.OutputTokens, elapsed)
	}
	return resp, nil
}
