// Package lint performs cheap static checks on candidate VRL scripts before
// a sandbox run is spent on them. A lint failure is reported with the same
// vocabulary the sandbox would use so that classification and repair treat
// both paths uniformly.
package lint

import (
	"fmt"
	"regexp"
	"strings"

	"vrlforge/internal/vrl"
)

// Result is the outcome of a static check pass.
type Result struct {
	OK bool
	// Kind and Message are set when OK is false. Message is phrased like a
	// compiler diagnostic so the classifier's rules apply to it unchanged.
	Kind    vrl.ErrorKind
	Message string
}

// placeholderRe matches literal template residue the model sometimes leaves
// in grok/object expressions, e.g. {"key" => "value"}.
var placeholderRe = regexp.MustCompile(`\{\s*"(?:k(?:ey)?)"\s*=>\s*"(?:v(?:alue)?)"\s*\}`)

// Check runs all static checks in order and reports the first failure.
// Scripts that pass still have to survive the sandbox; passing lint proves
// nothing beyond basic well-formedness.
func Check(script string) Result {
	trimmed := strings.TrimSpace(script)
	if trimmed == "" {
		return fail(vrl.KindSyntaxError, "syntax error: empty script, expected at least one statement")
	}

	if loc, ch := unbalanced(script); ch != 0 {
		return fail(vrl.KindSyntaxError,
			fmt.Sprintf("syntax error: unbalanced '%c' at line %d", ch, loc))
	}

	if placeholderRe.MatchString(script) {
		return fail(vrl.KindPatternNoMatch,
			`unable to parse: script contains a placeholder pattern {"key" => "value"} that was never filled in`)
	}

	return Result{OK: true}
}

func fail(kind vrl.ErrorKind, msg string) Result {
	return Result{OK: false, Kind: kind, Message: msg}
}

// unbalanced scans for brace, bracket, and parenthesis balance, skipping
// string literals and comments. Returns the line of the first offending
// delimiter and the delimiter itself, or (0, 0) when balanced.
func unbalanced(script string) (line int, ch byte) {
	type open struct {
		ch   byte
		line int
	}
	var stack []open
	curLine := 1
	inString := false
	var quote byte
	inComment := false

	for i := 0; i < len(script); i++ {
		c := script[i]
		if c == '\n' {
			curLine++
			inComment = false
			continue
		}
		if inComment {
			continue
		}
		if inString {
			if c == '\\' {
				i++
			} else if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '#':
			inComment = true
		case '{', '[', '(':
			stack = append(stack, open{c, curLine})
		case '}', ']', ')':
			if len(stack) == 0 {
				return curLine, c
			}
			top := stack[len(stack)-1]
			if !matches(top.ch, c) {
				return curLine, c
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return top.line, top.ch
	}
	return 0, 0
}

func matches(open, close byte) bool {
	switch open {
	case '{':
		return close == '}'
	case '[':
		return close == ']'
	case '(':
		return close == ')'
	}
	return false
}
