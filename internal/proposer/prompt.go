package proposer

import (
	"fmt"
	"strings"

	"vrlforge/internal/vrl"
)

const systemPrompt = `You are an expert in Vector Remap Language (VRL). You write VRL transform
programs that parse raw log lines into structured events.

Rules:
- Respond with exactly one VRL program inside a single fenced code block.
- The input event has the raw line in the .message field.
- Handle fallible functions: use the ! variant only when failure must abort,
  otherwise capture errors or provide ?? fallbacks.
- Extract as many meaningful fields as the sample supports. Do not invent
  fields the sample cannot justify.
- No commentary outside the code block.`

const maxPromptSampleLines = 20

// buildInitialPrompt renders the first-attempt request: intent plus the raw
// sample lines the program must handle.
func buildInitialPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Write a VRL program that parses the following log lines into structured fields.\n")
	if req.Description != "" {
		b.WriteString("\nGoal: ")
		b.WriteString(req.Description)
		b.WriteString("\n")
	}
	b.WriteString("\n--- SAMPLE LOG LINES ---\n")
	writeSample(&b, req.Sample)
	return b.String()
}

// buildRepairPrompt renders the feedback request: the prior program, the
// classified error with its suggested fix, and the unchanged sample.
func buildRepairPrompt(req Request, prior vrl.Attempt) string {
	var b strings.Builder
	b.WriteString("Your previous VRL program failed validation. Produce a corrected program.\n")
	if req.Description != "" {
		b.WriteString("\nGoal: ")
		b.WriteString(req.Description)
		b.WriteString("\n")
	}

	b.WriteString("\n--- PREVIOUS PROGRAM ---\n")
	b.WriteString(prior.Candidate.Script)
	b.WriteString("\n")

	b.WriteString("\n--- VALIDATION FAILURE ---\n")
	if prior.Outcome.Status == vrl.StatusTimeout {
		b.WriteString("The program exceeded the execution time limit. Simplify expensive operations (greedy regex, unbounded loops).\n")
	}
	if e := prior.Error; e != nil {
		fmt.Fprintf(&b, "Error kind: %s\n", e.Kind)
		if e.Symbol != "" {
			fmt.Fprintf(&b, "Offending symbol: %s\n", e.Symbol)
		}
		if e.Location != nil {
			fmt.Fprintf(&b, "Location: line %d", e.Location.Line)
			if e.Location.Column > 0 {
				fmt.Fprintf(&b, ", column %d", e.Location.Column)
			}
			b.WriteString("\n")
		}
		if e.SuggestedFix != "" {
			fmt.Fprintf(&b, "Required fix: %s\n", e.SuggestedFix)
		}
		if e.RawMessage != "" {
			b.WriteString("\nRaw diagnostic:\n")
			b.WriteString(truncate(e.RawMessage, 2000))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n--- SAMPLE LOG LINES (unchanged) ---\n")
	writeSample(&b, req.Sample)
	b.WriteString("\nFix the reported error without discarding extractions that already worked.\n")
	return b.String()
}

func writeSample(b *strings.Builder, sample vrl.SampleInput) {
	n := len(sample.Lines)
	if n > maxPromptSampleLines {
		n = maxPromptSampleLines
	}
	for _, line := range sample.Lines[:n] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if n < len(sample.Lines) {
		fmt.Fprintf(b, "... (%d more lines)\n", len(sample.Lines)-n)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
