// Package vrl defines the core data model for the VRL generation loop:
// candidates, execution outcomes, classified errors, attempts, and sessions.
// All values here are plain data; behavior lives in sandbox, classify, and
// regen.
package vrl

import (
	"time"
)

// =============================================================================
// CANDIDATE
// =============================================================================

// Provenance records how a candidate came to exist.
type Provenance int

const (
	// ProvenanceInitial marks the first proposal of a session.
	ProvenanceInitial Provenance = iota
	// ProvenanceRepair marks a candidate generated from error feedback on a
	// prior attempt.
	ProvenanceRepair
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceInitial:
		return "initial"
	case ProvenanceRepair:
		return "repair"
	default:
		return "unknown"
	}
}

// Candidate is one proposed VRL script. Immutable once recorded; owned by
// the Session for its lifetime.
type Candidate struct {
	Script     string     `json:"script"`
	Index      int        `json:"index"`      // attempt index, starts at 0
	Provenance Provenance `json:"provenance"` // initial proposal or repair
	RepairOf   int        `json:"repair_of"`  // index of the attempt being repaired (-1 for initial)
	ProposedAt time.Time  `json:"proposed_at"`
}

// SampleInput holds the raw log lines a candidate is exercised against.
// Provided by the caller and read-only; the same sample is reused byte-for-
// byte across every attempt of a session.
type SampleInput struct {
	Lines []string `json:"lines"`
}

// =============================================================================
// EXECUTION OUTCOME
// =============================================================================

// OutcomeStatus is the result class of one sandbox run.
type OutcomeStatus int

const (
	StatusSuccess OutcomeStatus = iota
	StatusFailure
	StatusTimeout
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ExecutionOutcome is the structured result of running a candidate against
// the sample inputs. Created by the sandbox executor, consumed by the
// classifier and the controller.
type ExecutionOutcome struct {
	Status              OutcomeStatus  `json:"status"`
	ExitCode            int            `json:"exit_code"`
	Stdout              string         `json:"stdout"`
	Stderr              string         `json:"stderr"` // captured verbatim for classification
	ExtractedFieldCount int            `json:"extracted_field_count"`
	Fields              []string       `json:"fields,omitempty"`   // flattened field paths, quality signal only
	Document            map[string]any `json:"document,omitempty"` // parsed output event, nil on failure
	Duration            time.Duration  `json:"duration"`
}

// =============================================================================
// ERROR RECORD
// =============================================================================

// ErrorKind is the closed category of a validation failure. The classifier
// maps every Failure outcome to exactly one kind, falling through to
// KindUnclassified.
type ErrorKind int

const (
	KindUndefinedSymbol ErrorKind = iota
	KindMissingArgument
	KindTypeMismatch
	KindPatternNoMatch
	KindSyntaxError
	KindUnclassified
)

func (k ErrorKind) String() string {
	switch k {
	case KindUndefinedSymbol:
		return "undefined_symbol"
	case KindMissingArgument:
		return "missing_argument"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindPatternNoMatch:
		return "pattern_no_match"
	case KindSyntaxError:
		return "syntax_error"
	case KindUnclassified:
		return "unclassified"
	default:
		return "unknown"
	}
}

// Location is a best-effort source position extracted from diagnostics.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column,omitempty"`
}

// ErrorRecord is the classified form of a failed outcome. Derived
// deterministically from stderr; optional fields stay zero when the
// diagnostic carries no capture for them.
type ErrorRecord struct {
	Kind         ErrorKind `json:"kind"`
	RawMessage   string    `json:"raw_message"`
	Symbol       string    `json:"symbol,omitempty"`
	Location     *Location `json:"location,omitempty"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`
}

// =============================================================================
// ATTEMPT AND SESSION
// =============================================================================

// Attempt is one loop iteration: the candidate, its outcome, and the
// classified error when the outcome was not a success. Immutable once
// recorded.
type Attempt struct {
	Candidate Candidate        `json:"candidate"`
	Outcome   ExecutionOutcome `json:"outcome"`
	Error     *ErrorRecord     `json:"error,omitempty"`
}

// SessionStatus is the terminal state of a session.
type SessionStatus int

const (
	SessionRunning SessionStatus = iota
	SessionSucceeded
	SessionExhausted
	SessionCancelled
	SessionInfraError
)

func (s SessionStatus) String() string {
	switch s {
	case SessionRunning:
		return "running"
	case SessionSucceeded:
		return "succeeded"
	case SessionExhausted:
		return "exhausted"
	case SessionCancelled:
		return "cancelled"
	case SessionInfraError:
		return "infrastructure_error"
	default:
		return "unknown"
	}
}

// Session is the ordered attempt history for one generation request.
// Attempts are append-only: indices strictly increase from 0, at most one
// attempt succeeds, and a successful attempt is always the last.
type Session struct {
	ID       string        `json:"id"`
	Sample   SampleInput   `json:"sample"`
	Attempts []Attempt     `json:"attempts"`
	Status   SessionStatus `json:"status"`
	// FinalScript is set only when Status == SessionSucceeded. On
	// exhaustion it stays empty: the system never substitutes a default
	// script for a failed generation.
	FinalScript         string       `json:"final_script,omitempty"`
	ExtractedFieldCount int          `json:"extracted_field_count,omitempty"`
	LastError           *ErrorRecord `json:"last_error,omitempty"`
	InfraCause          string       `json:"infra_cause,omitempty"` // set only for SessionInfraError
	StartedAt           time.Time    `json:"started_at"`
	FinishedAt          time.Time    `json:"finished_at"`
}

// LastAttempt returns the most recent attempt, or nil for an empty session.
func (s *Session) LastAttempt() *Attempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

// ErrorHistogram counts recorded attempts by error kind. Successful
// attempts are not counted.
func (s *Session) ErrorHistogram() map[ErrorKind]int {
	hist := make(map[ErrorKind]int)
	for _, a := range s.Attempts {
		if a.Error != nil {
			hist[a.Error.Kind]++
		}
	}
	return hist
}
