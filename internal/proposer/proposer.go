// Package proposer turns samples and failure feedback into candidate VRL
// scripts via an LLM backend. Backends implement the narrow Client
// interface; prompt assembly and response extraction live here so every
// backend behaves identically.
package proposer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"vrlforge/internal/vrl"
)

// ErrUnavailable marks proposer infrastructure faults: network errors,
// auth failures, exhausted provider retries. Matched with errors.Is; the
// controller reports these immediately instead of burning attempts.
var ErrUnavailable = errors.New("proposer unavailable")

// Client is the minimal LLM completion surface a backend must provide.
type Client interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Request describes what the caller wants extracted from the logs.
type Request struct {
	Sample      vrl.SampleInput
	Description string // free-form intent, e.g. "extract timestamp, level, and message"
}

// Proposer produces candidate scripts. ProposeRepair receives the failed
// attempt whose classified error drives the fix.
type Proposer interface {
	ProposeInitial(ctx context.Context, req Request) (string, error)
	ProposeRepair(ctx context.Context, req Request, prior vrl.Attempt) (string, error)
}

// =============================================================================
// LLM-BACKED PROPOSER
// =============================================================================

// LLMProposer assembles prompts, calls a Client, and extracts the VRL
// program from the response.
type LLMProposer struct {
	client Client
	logger *zap.Logger
}

// New wraps a backend client.
func New(client Client, logger *zap.Logger) *LLMProposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMProposer{client: client, logger: logger}
}

// ProposeInitial asks for a first candidate for the sample.
func (p *LLMProposer) ProposeInitial(ctx context.Context, req Request) (string, error) {
	prompt := buildInitialPrompt(req)
	return p.complete(ctx, prompt, "initial")
}

// ProposeRepair asks for a corrected candidate given the failed attempt.
func (p *LLMProposer) ProposeRepair(ctx context.Context, req Request, prior vrl.Attempt) (string, error) {
	prompt := buildRepairPrompt(req, prior)
	return p.complete(ctx, prompt, "repair")
}

func (p *LLMProposer) complete(ctx context.Context, prompt, phase string) (string, error) {
	p.logger.Debug("requesting proposal",
		zap.String("phase", phase),
		zap.Int("prompt_len", len(prompt)))

	resp, err := p.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	script := ExtractScript(resp)
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: backend returned no usable script", ErrUnavailable)
	}
	return script, nil
}

// =============================================================================
// RESPONSE EXTRACTION
// =============================================================================

var fenceRe = regexp.MustCompile("(?s)```(?:vrl|ruby|text)?\\s*\\n(.*?)```")

// ExtractScript pulls the VRL program out of a model response. Fenced code
// blocks win; a response with no fence is assumed to be the bare program.
func ExtractScript(response string) string {
	if m := fenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}
