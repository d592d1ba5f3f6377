package litellm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/opsloop/internal/port/oracle"
)

// PlannerConfig controls how planning requests are built.
type PlannerConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// StdoutChars and StderrChars cap each history excerpt sent to the model.
	StdoutChars int
	StderrChars int
	// JSONMode sets response_format to json_object. Not every model
	// behind a gateway accepts it.
	JSONMode bool
}

// Planner is the planning oracle backed by a chat completions model.
type Planner struct {
	client *Client
	cfg    PlannerConfig
	redact func(string) string
}

// NewPlanner creates a Planner using client.
func NewPlanner(client *Client, cfg PlannerConfig) *Planner {
	return &Planner{
		client: client,
		cfg:    cfg,
		redact: func(s string) string { return s },
	}
}

// SetRedactor installs a function applied to every command and output
// excerpt before it leaves the process.
func (p *Planner) SetRedactor(fn func(string) string) {
	if fn != nil {
		p.redact = fn
	}
}

// Model returns the configured model name.
func (p *Planner) Model() string {
	return p.cfg.Model
}

// Decide asks the model for the next step. Transport failures return an
// error wrapping oracle.ErrUnavailable; anything the model says that is not
// a usable decision comes back as a malformed Response.
func (p *Planner) Decide(ctx context.Context, pc oracle.PlanContext) (oracle.Response, error) {
	msgs, err := buildMessages(pc, p.cfg.StdoutChars, p.cfg.StderrChars, p.redact)
	if err != nil {
		return oracle.Response{}, err
	}

	req := ChatRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
	if p.cfg.JSONMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	resp, err := p.client.ChatCompletion(ctx, req)
	switch {
	case errors.Is(err, oracle.ErrProtocol):
		slog.WarnContext(ctx, "oracle returned an unusable envelope", "error", err)
		return oracle.Malformed("", err), nil
	case err != nil:
		return oracle.Response{}, err
	}

	content := resp.Choices[0].Message.Content
	d, err := ParseDecision(content)
	if err != nil {
		return oracle.Malformed(content, fmt.Errorf("%w: %w", oracle.ErrProtocol, err)), nil
	}
	slog.DebugContext(ctx, "oracle decision",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"stop", d.Stop,
	)
	return oracle.Response{Kind: oracle.KindDecision, Decision: d, Raw: content}, nil
}

var _ oracle.Planner = (*Planner)(nil)
