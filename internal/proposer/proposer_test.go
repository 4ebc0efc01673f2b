package proposer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"vrlforge/internal/vrl"
)

// mockClient scripts backend behavior for proposer tests.
type mockClient struct {
	CompleteFunc func(ctx context.Context, system, user string) (string, error)
	lastSystem   string
	lastUser     string
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	m.lastSystem = system
	m.lastUser = user
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, user)
	}
	return "```vrl\n. = parse_json!(.message)\n```", nil
}

func TestExtractScript(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "vrl fence",
			response: "Here you go:\n```vrl\n. = parse_json!(.message)\n```\nDone.",
			want:     ". = parse_json!(.message)",
		},
		{
			name:     "bare fence",
			response: "```\n.level = \"info\"\n```",
			want:     ".level = \"info\"",
		},
		{
			name:     "no fence assumes bare program",
			response: "  . = parse_syslog!(.message)  ",
			want:     ". = parse_syslog!(.message)",
		},
		{
			name:     "first fence wins",
			response: "```vrl\n.a = 1\n```\nand also\n```vrl\n.b = 2\n```",
			want:     ".a = 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractScript(tt.response); got != tt.want {
				t.Errorf("ExtractScript() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProposeInitialPromptContents(t *testing.T) {
	mock := &mockClient{}
	p := New(mock, nil)

	req := Request{
		Sample:      vrl.SampleInput{Lines: []string{"2026-01-02 ERROR boom", "2026-01-02 INFO fine"}},
		Description: "extract timestamp and level",
	}
	script, err := p.ProposeInitial(context.Background(), req)
	if err != nil {
		t.Fatalf("ProposeInitial() error = %v", err)
	}
	if script == "" {
		t.Fatal("empty script")
	}
	for _, want := range []string{"2026-01-02 ERROR boom", "extract timestamp and level", "SAMPLE LOG LINES"} {
		if !strings.Contains(mock.lastUser, want) {
			t.Errorf("initial prompt missing %q", want)
		}
	}
	if !strings.Contains(mock.lastSystem, "Vector Remap Language") {
		t.Error("system prompt should pin the target language")
	}
}

func TestProposeRepairPromptContents(t *testing.T) {
	mock := &mockClient{}
	p := New(mock, nil)

	prior := vrl.Attempt{
		Candidate: vrl.Candidate{Script: ". = parse_foo(.message)", Index: 0},
		Outcome:   vrl.ExecutionOutcome{Status: vrl.StatusFailure, Stderr: `undefined function "parse_foo"`},
		Error: &vrl.ErrorRecord{
			Kind:         vrl.KindUndefinedSymbol,
			RawMessage:   `undefined function "parse_foo"`,
			Symbol:       "parse_foo",
			Location:     &vrl.Location{Line: 1, Column: 5},
			SuggestedFix: "Replace the symbol with a function that exists.",
		},
	}
	req := Request{Sample: vrl.SampleInput{Lines: []string{"raw line"}}}

	if _, err := p.ProposeRepair(context.Background(), req, prior); err != nil {
		t.Fatalf("ProposeRepair() error = %v", err)
	}
	for _, want := range []string{
		"PREVIOUS PROGRAM",
		". = parse_foo(.message)",
		"undefined_symbol",
		"parse_foo",
		"line 1, column 5",
		"Replace the symbol",
		"raw line",
	} {
		if !strings.Contains(mock.lastUser, want) {
			t.Errorf("repair prompt missing %q", want)
		}
	}
}

func TestProposeRepairTimeoutFeedback(t *testing.T) {
	mock := &mockClient{}
	p := New(mock, nil)
	prior := vrl.Attempt{
		Candidate: vrl.Candidate{Script: ".x = 1"},
		Outcome:   vrl.ExecutionOutcome{Status: vrl.StatusTimeout},
	}
	if _, err := p.ProposeRepair(context.Background(), Request{}, prior); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(mock.lastUser, "time limit") {
		t.Error("timeout repair prompt should mention the time limit")
	}
}

func TestBackendErrorBecomesUnavailable(t *testing.T) {
	mock := &mockClient{
		CompleteFunc: func(context.Context, string, string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	p := New(mock, nil)
	_, err := p.ProposeInitial(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCancellationPassesThrough(t *testing.T) {
	mock := &mockClient{
		CompleteFunc: func(ctx context.Context, _, _ string) (string, error) {
			return "", context.Canceled
		},
	}
	p := New(mock, nil)
	_, err := p.ProposeInitial(context.Background(), Request{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled (not wrapped as unavailable)", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("cancellation must not be reported as infrastructure failure")
	}
}

func TestEmptyResponseIsUnavailable(t *testing.T) {
	mock := &mockClient{
		CompleteFunc: func(context.Context, string, string) (string, error) {
			return "```vrl\n\n```", nil
		},
	}
	p := New(mock, nil)
	_, err := p.ProposeInitial(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable for an empty program", err)
	}
}

func TestPromptTruncatesLargeSamples(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = "line"
	}
	prompt := buildInitialPrompt(Request{Sample: vrl.SampleInput{Lines: lines}})
	if !strings.Contains(prompt, "30 more lines") {
		t.Errorf("prompt should note elided lines, got:\n%s", prompt)
	}
}

func TestNewClientFactory(t *testing.T) {
	if _, err := NewClient(context.Background(), ClientConfig{Provider: "carrier-pigeon"}); err == nil {
		t.Error("unknown provider should be rejected")
	}
	c, err := NewClient(context.Background(), ClientConfig{Provider: ProviderOpenRouter, APIKey: "k"})
	if err != nil {
		t.Fatalf("openrouter factory error = %v", err)
	}
	if _, ok := c.(*OpenRouterClient); !ok {
		t.Errorf("factory returned %T, want *OpenRouterClient", c)
	}
}
