// Package classify maps raw sandbox diagnostics to structured error records.
// Classification is a pure function over the failure text: the same stderr
// always yields the same record, and every failure maps to exactly one kind.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"vrlforge/internal/vrl"
)

// =============================================================================
// RULE TABLE
// =============================================================================

// rule is one ordered classification pattern. The first rule whose pattern
// matches the diagnostic wins; later rules are never consulted.
type rule struct {
	kind vrl.ErrorKind
	// pattern may carry a named group "symbol" for the offending
	// identifier. Missing groups leave the record field empty.
	pattern *regexp.Regexp
	fix     string
}

// rules is evaluated strictly in order. UndefinedSymbol and MissingArgument
// outrank TypeMismatch so that a diagnostic mentioning both an unknown
// function and a type complaint resolves to the more actionable kind.
// Patterns cover Vector compiler codes (E105, E701, E106, E100, E103, E110)
// and the runtime phrasings seen from `vector vrl`.
var rules = []rule{
	{
		kind:    vrl.KindUndefinedSymbol,
		pattern: regexp.MustCompile(`(?i)(?:error\[E105\]|error\[E701\]|call to undefined function|undefined function|undefined variable|unknown function)(?:[^"` + "`" + `]*["` + "`" + `](?P<symbol>[A-Za-z_][A-Za-z0-9_]*)["` + "`" + `])?`),
		fix:     "Replace the symbol with a function or variable that exists; check the VRL standard library for the closest equivalent (e.g. parse_json, parse_syslog, parse_regex, to_string).",
	},
	{
		kind:    vrl.KindMissingArgument,
		pattern: regexp.MustCompile(`(?i)(?:error\[E106\]|missing required argument|expected \d+ arguments?|wrong number of arguments|function argument missing)(?:[^"` + "`" + `]*["` + "`" + `](?P<symbol>[A-Za-z_][A-Za-z0-9_]*)["` + "`" + `])?`),
		fix:     "Supply every required argument in the call; consult the function signature and pass arguments in declaration order.",
	},
	{
		kind:    vrl.KindTypeMismatch,
		pattern: regexp.MustCompile(`(?i)(?:error\[E100\]|error\[E103\]|error\[E110\]|unhandled fallible assignment|fallible (?:operation|assignment|predicate)|can't (?:coerce|abort)|type mismatch|expected (?:the )?(?:string|integer|float|boolean|object|array|timestamp)\b|unexpected type)`),
		fix:     "Handle the fallible expression: assign with an error capture (result, err = ...), add a null coalescing fallback (?? value), or coerce with to_string!/to_int! after guarding the input type.",
	},
	{
		kind:    vrl.KindPatternNoMatch,
		pattern: regexp.MustCompile(`(?i)(?:unable to parse|could not parse|pattern (?:did not|doesn't) match|no match(?:es)? (?:found|for)|grok pattern|failed to (?:match|parse) (?:grok|regex|pattern))`),
		fix:     "Adjust the parsing pattern to the sample's actual shape: verify delimiters, timestamp format, and optional fields, or fall back to a more permissive pattern with ?? defaults.",
	},
	{
		kind:    vrl.KindSyntaxError,
		pattern: regexp.MustCompile(`(?i)(?:syntax error|parse error|unexpected (?:token|end of (?:file|input|program))|unbalanced|unexpected closing|expected ["` + "`" + `]?[)}\]])`),
		fix:     "Fix the malformed construct: check brace and parenthesis balance, statement terminators, and string quoting near the reported location.",
	},
}

// unclassifiedFix is attached when no rule matches. The directive still has
// to give the proposer something to act on.
const unclassifiedFix = "Re-read the raw diagnostic below and simplify the script: remove the construct nearest the reported location and rebuild it incrementally."

// location formats emitted by the Vector diagnostic renderer. The boxed
// form is `┌─ :LINE:COL`; runtime errors use `at line N` prose.
var (
	boxedLocRe = regexp.MustCompile(`[┌└]─[^:]*:(\d+):(\d+)`)
	proseLocRe = regexp.MustCompile(`(?i)\bline (\d+)(?:,? col(?:umn)? (\d+))?`)
	bareLocRe  = regexp.MustCompile(`:(\d+):(\d+)\b`)
)

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classify derives the error record for a failed execution outcome. It is
// total: any input, including empty stderr, produces a record. Outcomes that
// did not fail classify their stderr all the same, so callers guard on
// outcome status themselves.
func Classify(stderr string) vrl.ErrorRecord {
	rec := vrl.ErrorRecord{
		Kind:         vrl.KindUnclassified,
		RawMessage:   stderr,
		SuggestedFix: unclassifiedFix,
	}

	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(stderr)
		if m == nil {
			continue
		}
		rec.Kind = r.kind
		rec.SuggestedFix = r.fix
		for i, name := range r.pattern.SubexpNames() {
			if name == "symbol" && i < len(m) && m[i] != "" {
				rec.Symbol = m[i]
			}
		}
		break
	}

	rec.Location = extractLocation(stderr)
	return rec
}

// extractLocation pulls a best-effort source position out of the diagnostic.
// Returns nil when no recognizable position is present.
func extractLocation(stderr string) *vrl.Location {
	if m := boxedLocRe.FindStringSubmatch(stderr); m != nil {
		return locFrom(m[1], m[2])
	}
	if m := proseLocRe.FindStringSubmatch(stderr); m != nil {
		col := ""
		if len(m) > 2 {
			col = m[2]
		}
		return locFrom(m[1], col)
	}
	if m := bareLocRe.FindStringSubmatch(stderr); m != nil {
		return locFrom(m[1], m[2])
	}
	return nil
}

func locFrom(line, col string) *vrl.Location {
	l, err := strconv.Atoi(line)
	if err != nil || l <= 0 {
		return nil
	}
	loc := &vrl.Location{Line: l}
	if col != "" {
		if c, err := strconv.Atoi(col); err == nil && c > 0 {
			loc.Column = c
		}
	}
	return loc
}

// FirstDiagnosticLine returns the first non-empty line of a diagnostic,
// trimmed. Used for compact log output and session listings.
func FirstDiagnosticLine(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
