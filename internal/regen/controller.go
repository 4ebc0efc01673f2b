// Package regen drives the generate, validate, repair loop. The controller
// owns the session: it asks the proposer for candidates, spends sandbox
// runs on them, classifies failures, and stops on success, exhaustion,
// cancellation, or an infrastructure fault.
package regen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vrlforge/internal/classify"
	"vrlforge/internal/lint"
	"vrlforge/internal/proposer"
	"vrlforge/internal/sandbox"
	"vrlforge/internal/vrl"
)

// =============================================================================
// STAGES
// =============================================================================

// Stage identifies where in the loop a session currently is. Used for
// logging and stats only; the loop itself is the state machine.
type Stage int

const (
	StagePropose Stage = iota
	StageValidate
	StageAnalyze
	StageRepair
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StagePropose:
		return "propose"
	case StageValidate:
		return "validate"
	case StageAnalyze:
		return "analyze"
	case StageRepair:
		return "repair"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config bounds a controller.
type Config struct {
	// RetryBudget is the maximum number of attempts per session.
	RetryBudget int
	// AttemptTimeout is the sandbox execution limit per attempt.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the standard budget of five attempts.
func DefaultConfig() Config {
	return Config{
		RetryBudget:    5,
		AttemptTimeout: 30 * time.Second,
	}
}

// Validate rejects budgets that could never terminate or never start.
func (c Config) Validate() error {
	if c.RetryBudget < 1 {
		return fmt.Errorf("retry budget must be at least 1, got %d", c.RetryBudget)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %v", c.AttemptTimeout)
	}
	return nil
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Stats aggregates controller activity across sessions.
type Stats struct {
	Sessions      int            `json:"sessions"`
	Succeeded     int            `json:"succeeded"`
	Exhausted     int            `json:"exhausted"`
	Cancelled     int            `json:"cancelled"`
	InfraErrors   int            `json:"infra_errors"`
	TotalAttempts int            `json:"total_attempts"`
	ErrorKinds    map[string]int `json:"error_kinds"`
}

// Controller runs sessions. Safe for concurrent use; each Run owns its
// session exclusively.
type Controller struct {
	cfg      Config
	executor sandbox.Executor
	prop     proposer.Proposer
	logger   *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// New builds a controller. The executor and proposer are required.
func New(cfg Config, executor sandbox.Executor, prop proposer.Proposer, logger *zap.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if prop == nil {
		return nil, errors.New("proposer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		executor: executor,
		prop:     prop,
		logger:   logger,
		stats:    Stats{ErrorKinds: make(map[string]int)},
	}, nil
}

// Run executes one full session for the request and returns it in a
// terminal state. The returned session is always non-nil; its Status says
// how the loop ended. Run never substitutes a fallback script: on
// exhaustion FinalScript stays empty and the last classified error is
// attached.
func (c *Controller) Run(ctx context.Context, req proposer.Request) *vrl.Session {
	session := &vrl.Session{
		ID:        uuid.NewString(),
		Sample:    req.Sample,
		Status:    vrl.SessionRunning,
		StartedAt: time.Now(),
	}
	log := c.logger.With(zap.String("session", session.ID))
	log.Info("session started",
		zap.Int("sample_lines", len(req.Sample.Lines)),
		zap.Int("retry_budget", c.cfg.RetryBudget))

	for idx := 0; idx < c.cfg.RetryBudget; idx++ {
		// Suspension point before proposing.
		if ctx.Err() != nil {
			return c.finish(session, vrl.SessionCancelled, log)
		}

		candidate, err := c.propose(ctx, req, session, idx)
		if err != nil {
			return c.finishFromError(ctx, session, err, "proposer", log)
		}

		// Suspension point between propose and validate.
		if ctx.Err() != nil {
			return c.finish(session, vrl.SessionCancelled, log)
		}

		attempt, err := c.validate(ctx, candidate, req.Sample)
		if err != nil {
			return c.finishFromError(ctx, session, err, "sandbox", log)
		}

		session.Attempts = append(session.Attempts, attempt)
		c.countAttempt(attempt)

		if attempt.Outcome.Status == vrl.StatusSuccess {
			session.FinalScript = candidate.Script
			session.ExtractedFieldCount = attempt.Outcome.ExtractedFieldCount
			log.Info("candidate validated",
				zap.Int("attempt", idx),
				zap.Int("extracted_fields", attempt.Outcome.ExtractedFieldCount))
			return c.finish(session, vrl.SessionSucceeded, log)
		}

		log.Info("candidate rejected",
			zap.Int("attempt", idx),
			zap.String("stage", StageAnalyze.String()),
			zap.String("outcome", attempt.Outcome.Status.String()),
			zap.String("error_kind", attempt.Error.Kind.String()))
	}

	return c.finish(session, vrl.SessionExhausted, log)
}

// propose obtains the next candidate: the initial proposal for index 0,
// a repair of the latest failed attempt otherwise.
func (c *Controller) propose(ctx context.Context, req proposer.Request, session *vrl.Session, idx int) (vrl.Candidate, error) {
	var (
		script string
		err    error
	)
	cand := vrl.Candidate{
		Index:      idx,
		Provenance: vrl.ProvenanceInitial,
		RepairOf:   -1,
	}
	if prior := session.LastAttempt(); prior != nil {
		cand.Provenance = vrl.ProvenanceRepair
		cand.RepairOf = prior.Candidate.Index
		script, err = c.prop.ProposeRepair(ctx, req, *prior)
	} else {
		script, err = c.prop.ProposeInitial(ctx, req)
	}
	if err != nil {
		return vrl.Candidate{}, err
	}
	cand.Script = script
	cand.ProposedAt = time.Now()
	return cand, nil
}

// validate runs static checks and, if they pass, the sandbox. Lint
// failures become regular failed attempts without spending a sandbox run.
func (c *Controller) validate(ctx context.Context, cand vrl.Candidate, sample vrl.SampleInput) (vrl.Attempt, error) {
	if res := lint.Check(cand.Script); !res.OK {
		outcome := vrl.ExecutionOutcome{
			Status:   vrl.StatusFailure,
			ExitCode: -1,
			Stderr:   res.Message,
		}
		rec := classify.Classify(res.Message)
		return vrl.Attempt{Candidate: cand, Outcome: outcome, Error: &rec}, nil
	}

	outcome, err := c.executor.Execute(ctx, cand.Script, sample, c.cfg.AttemptTimeout)
	if err != nil {
		return vrl.Attempt{}, err
	}

	attempt := vrl.Attempt{Candidate: cand, Outcome: outcome}
	switch outcome.Status {
	case vrl.StatusSuccess:
		// no error record
	case vrl.StatusTimeout:
		attempt.Error = &vrl.ErrorRecord{
			Kind:         vrl.KindUnclassified,
			RawMessage:   fmt.Sprintf("execution exceeded the %v limit", c.cfg.AttemptTimeout),
			SuggestedFix: "Simplify expensive operations: greedy regex, repeated parsing of the same field, large object merges.",
		}
	default:
		rec := classify.Classify(outcome.Stderr)
		attempt.Error = &rec
	}
	return attempt, nil
}

// finishFromError maps a propose/execute error to the terminal status.
// Cancelled only when the caller's context actually ended: a
// DeadlineExceeded from a component's own internal timeout (a hung LLM
// endpoint, a stalled HTTP client) is an environment fault and must be
// reported as such.
func (c *Controller) finishFromError(ctx context.Context, session *vrl.Session, err error, source string, log *zap.Logger) *vrl.Session {
	if (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
		return c.finish(session, vrl.SessionCancelled, log)
	}
	session.InfraCause = fmt.Sprintf("%s: %v", source, err)
	log.Error("infrastructure failure", zap.String("source", source), zap.Error(err))
	return c.finish(session, vrl.SessionInfraError, log)
}

func (c *Controller) finish(session *vrl.Session, status vrl.SessionStatus, log *zap.Logger) *vrl.Session {
	session.Status = status
	session.FinishedAt = time.Now()
	if status == vrl.SessionExhausted && session.LastError == nil {
		if last := session.LastAttempt(); last != nil {
			session.LastError = last.Error
		}
	}

	c.mu.Lock()
	c.stats.Sessions++
	switch status {
	case vrl.SessionSucceeded:
		c.stats.Succeeded++
	case vrl.SessionExhausted:
		c.stats.Exhausted++
	case vrl.SessionCancelled:
		c.stats.Cancelled++
	case vrl.SessionInfraError:
		c.stats.InfraErrors++
	}
	c.mu.Unlock()

	log.Info("session finished",
		zap.String("status", status.String()),
		zap.Int("attempts", len(session.Attempts)),
		zap.Duration("elapsed", session.FinishedAt.Sub(session.StartedAt)))
	return session
}

func (c *Controller) countAttempt(attempt vrl.Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalAttempts++
	if attempt.Error != nil {
		c.stats.ErrorKinds[attempt.Error.Kind.String()]++
	}
}

// GetStats returns a snapshot of the aggregate counters.
func (c *Controller) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.stats
	out.ErrorKinds = make(map[string]int, len(c.stats.ErrorKinds))
	for k, v := range c.stats.ErrorKinds {
		out.ErrorKinds[k] = v
	}
	return out
}
