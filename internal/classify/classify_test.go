package classify

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"vrlforge/internal/vrl"
)

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		name       string
		stderr     string
		wantKind   vrl.ErrorKind
		wantSymbol string
	}{
		{
			name: "undefined function with code",
			stderr: "error[E105]: call to undefined function\n" +
				"  ┌─ :2:6\n" +
				"  │\n" +
				"2 │ . = parse_foo(.message)\n" +
				"  │     ^^^^^^^^^ undefined function \"parse_foo\"",
			wantKind:   vrl.KindUndefinedSymbol,
			wantSymbol: "parse_foo",
		},
		{
			name:       "undefined variable",
			stderr:     "error[E701]: undefined variable\nundefined variable \"msg\"",
			wantKind:   vrl.KindUndefinedSymbol,
			wantSymbol: "msg",
		},
		{
			name:       "missing argument",
			stderr:     "error[E106]: function argument missing\nmissing required argument \"value\" for function \"parse_timestamp\"",
			wantKind:   vrl.KindMissingArgument,
			wantSymbol: "value",
		},
		{
			name:     "fallible assignment",
			stderr:   "error[E103]: unhandled fallible assignment\n  ┌─ :3:1",
			wantKind: vrl.KindTypeMismatch,
		},
		{
			name:     "type coercion",
			stderr:   "error[E110]: invalid argument type\nexpected string, got integer",
			wantKind: vrl.KindTypeMismatch,
		},
		{
			name:     "grok no match",
			stderr:   `function call error for "parse_grok" at (0:52): unable to parse input with grok pattern`,
			wantKind: vrl.KindPatternNoMatch,
		},
		{
			name:     "regex no match",
			stderr:   "could not parse timestamp from field",
			wantKind: vrl.KindPatternNoMatch,
		},
		{
			name:     "syntax error",
			stderr:   "error: syntax error\nunexpected token \"}\" at line 4",
			wantKind: vrl.KindSyntaxError,
		},
		{
			name:     "unexpected eof",
			stderr:   "parse error: unexpected end of program",
			wantKind: vrl.KindSyntaxError,
		},
		{
			name:     "unknown diagnostic",
			stderr:   "something nobody has seen before",
			wantKind: vrl.KindUnclassified,
		},
		{
			name:     "empty stderr",
			stderr:   "",
			wantKind: vrl.KindUnclassified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Classify(tt.stderr)
			if rec.Kind != tt.wantKind {
				t.Errorf("Classify() kind = %v, want %v", rec.Kind, tt.wantKind)
			}
			if rec.Symbol != tt.wantSymbol {
				t.Errorf("Classify() symbol = %q, want %q", rec.Symbol, tt.wantSymbol)
			}
			if rec.RawMessage != tt.stderr {
				t.Errorf("Classify() must preserve the raw diagnostic verbatim")
			}
			if rec.SuggestedFix == "" {
				t.Errorf("Classify() must always attach a suggested fix")
			}
		})
	}
}

// Precedence: when a diagnostic matches more than one kind's vocabulary,
// the earlier rule in the table wins.
func TestClassifyPrecedence(t *testing.T) {
	stderr := `call to undefined function "parse_foo": type mismatch in argument`
	rec := Classify(stderr)
	if rec.Kind != vrl.KindUndefinedSymbol {
		t.Errorf("kind = %v, want %v (undefined symbol outranks type mismatch)", rec.Kind, vrl.KindUndefinedSymbol)
	}
}

// Same input, same record, every time.
func TestClassifyDeterministic(t *testing.T) {
	inputs := []string{
		"error[E105]: call to undefined function \"foo\"",
		"unable to parse input with grok pattern",
		"garbage output ::: 123",
		"",
	}
	for _, in := range inputs {
		first := Classify(in)
		for i := 0; i < 10; i++ {
			if diff := cmp.Diff(first, Classify(in)); diff != "" {
				t.Fatalf("classification of %q changed between calls (-first +now):\n%s", in, diff)
			}
		}
	}
}

// Every input maps to exactly one kind and classification never errors.
func TestClassifyTotal(t *testing.T) {
	inputs := []string{
		"", "\n\n\n", "   ", "error", "error[E999]: unheard of",
		"multi\nline\ndiagnostic with no known vocabulary",
		string([]byte{0xff, 0xfe, 0x00}),
	}
	for i := 0; i < 64; i++ {
		inputs = append(inputs, fmt.Sprintf("synthetic diagnostic %d: code %x", i, i*7919))
	}
	for _, in := range inputs {
		rec := Classify(in)
		if rec.Kind < vrl.KindUndefinedSymbol || rec.Kind > vrl.KindUnclassified {
			t.Fatalf("Classify(%q) produced out-of-range kind %d", in, rec.Kind)
		}
	}
}

func TestExtractLocation(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   *vrl.Location
	}{
		{
			name:   "boxed form",
			stderr: "error[E105]: call to undefined function\n  ┌─ :2:6",
			want:   &vrl.Location{Line: 2, Column: 6},
		},
		{
			name:   "prose with column",
			stderr: "syntax error at line 4, column 12",
			want:   &vrl.Location{Line: 4, Column: 12},
		},
		{
			name:   "prose line only",
			stderr: "unexpected token at line 7",
			want:   &vrl.Location{Line: 7},
		},
		{
			name:   "no location",
			stderr: "unable to parse input",
			want:   nil,
		},
		{
			name:   "word containing line is not a position",
			stderr: "request exceeded deadline 5",
			want:   nil,
		},
		{
			name:   "newline in prose is not a position",
			stderr: "expected a newline 3 tokens later",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractLocation(tt.stderr)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("extractLocation() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFirstDiagnosticLine(t *testing.T) {
	if got := FirstDiagnosticLine("\n\n  error: boom  \nmore"); got != "error: boom" {
		t.Errorf("FirstDiagnosticLine() = %q", got)
	}
	if got := FirstDiagnosticLine("   \n\t\n"); got != "" {
		t.Errorf("FirstDiagnosticLine() on blank input = %q, want empty", got)
	}
}
