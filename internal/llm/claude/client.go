// Package claude implements triage.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/triagedesk/internal/triage"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = "claude-sonnet-4-20250514"

// Options configures a Client.
type Options struct {
	APIKey     string
	Model      string
	MaxRetries int
	Timeout    time.Duration

	// BaseURL overrides the API endpoint; tests point it at httptest.
	BaseURL string
}

// Client implements triage.Provider for the Claude API.
type Client struct {
	client anthropic.Client
	model  string
	hasKey bool
}

// New creates a Claude client. An empty API key is allowed: Send then
// reports triage.ErrMissingCredential without touching the network.
func New(opts Options) *Client {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
		option.WithRequestTimeout(timeout),
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		client: anthropic.NewClient(reqOpts...),
		model:  model,
		hasKey: strings.TrimSpace(opts.APIKey) != "",
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Send runs a single-turn completion.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	if !c.hasKey {
		return nil, triage.ErrMissingCredential
	}

	msg, err := c.client.Messages.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		return nil, fmt.Errorf("claude messages.new: %w", err)
	}
	return fromSDKResponse(msg), nil
}

func toSDKParams(model string, req *triage.LLMRequest) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// fromSDKResponse joins the text blocks of msg; other block types are
// ignored since no tools are offered.
func fromSDKResponse(msg *anthropic.Message) *triage.LLMResponse {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return &triage.LLMResponse{
		Text:       strings.Join(parts, "\n"),
		StopReason: string(msg.StopReason),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
	}
}
