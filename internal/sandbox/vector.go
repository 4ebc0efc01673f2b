package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"vrlforge/internal/vrl"
)

// Runner mode selects how the Vector CLI is invoked.
const (
	RunnerDocker = "docker"
	RunnerLocal  = "local"
)

// VectorConfig configures the Vector CLI runner.
type VectorConfig struct {
	// Runner is "docker" or "local".
	Runner string
	// Image is the container image for the docker runner.
	Image string
	// BinaryPath is the vector executable for the local runner.
	BinaryPath string
	// WorkDir is where per-run temp directories are created. Empty means
	// the system temp dir.
	WorkDir string
}

// DefaultVectorConfig returns the docker runner with network isolation.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Runner:     RunnerDocker,
		Image:      "timberio/vector:latest-alpine",
		BinaryPath: "vector",
	}
}

// VectorRunner executes VRL programs through `vector vrl`, either inside a
// throwaway Docker container with networking disabled or via a local
// binary. Each run gets its own temp directory, removed before return.
type VectorRunner struct {
	cfg    VectorConfig
	logger *zap.Logger
}

// NewVectorRunner validates the config and returns a runner.
func NewVectorRunner(cfg VectorConfig, logger *zap.Logger) (*VectorRunner, error) {
	switch cfg.Runner {
	case RunnerDocker, RunnerLocal:
	default:
		return nil, fmt.Errorf("unknown sandbox runner %q", cfg.Runner)
	}
	if cfg.Runner == RunnerDocker && cfg.Image == "" {
		return nil, errors.New("docker runner requires an image")
	}
	if cfg.Runner == RunnerLocal && cfg.BinaryPath == "" {
		cfg.BinaryPath = "vector"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorRunner{cfg: cfg, logger: logger}, nil
}

// Execute writes the program and sample to disk, runs the Vector CLI with
// the given timeout, and converts the process result into an outcome.
func (r *VectorRunner) Execute(ctx context.Context, script string, sample vrl.SampleInput, timeout time.Duration) (vrl.ExecutionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return vrl.ExecutionOutcome{}, err
	}

	dir, err := os.MkdirTemp(r.cfg.WorkDir, "vrlforge-run-")
	if err != nil {
		return vrl.ExecutionOutcome{}, fmt.Errorf("%w: creating run dir: %v", ErrInfrastructure, err)
	}
	defer os.RemoveAll(dir)

	programPath := filepath.Join(dir, "program.vrl")
	inputPath := filepath.Join(dir, "input.ndjson")
	if err := os.WriteFile(programPath, []byte(script), 0o644); err != nil {
		return vrl.ExecutionOutcome{}, fmt.Errorf("%w: writing program: %v", ErrInfrastructure, err)
	}
	if err := os.WriteFile(inputPath, encodeSample(sample), 0o644); err != nil {
		return vrl.ExecutionOutcome{}, fmt.Errorf("%w: writing sample: %v", ErrInfrastructure, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := r.command(runCtx, dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running sandbox",
		zap.String("runner", r.cfg.Runner),
		zap.Int("sample_lines", len(sample.Lines)),
		zap.Duration("timeout", timeout))

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	// Caller cancellation wins over everything else.
	if ctx.Err() != nil {
		return vrl.ExecutionOutcome{}, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return vrl.ExecutionOutcome{
			Status:   vrl.StatusTimeout,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Could not even start the process.
			return vrl.ExecutionOutcome{}, fmt.Errorf("%w: %v", ErrInfrastructure, runErr)
		}
		code := exitErr.ExitCode()
		if r.infraFailure(code, stderr.String()) {
			return vrl.ExecutionOutcome{}, fmt.Errorf("%w: runner exited %d: %s",
				ErrInfrastructure, code, firstLine(stderr.String()))
		}
		return vrl.ExecutionOutcome{
			Status:   vrl.StatusFailure,
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}

	outcome := vrl.ExecutionOutcome{
		Status:   vrl.StatusSuccess,
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}
	if doc := firstEvent(stdout.Bytes()); doc != nil {
		outcome.Document = doc
		outcome.Fields = FlattenFields(doc)
		outcome.ExtractedFieldCount = len(outcome.Fields)
	}
	return outcome, nil
}

// command builds the CLI invocation for the configured runner. The docker
// form mirrors a network-isolated one-shot container with the run dir
// mounted read-only.
func (r *VectorRunner) command(ctx context.Context, dir string) *exec.Cmd {
	vrlArgs := []string{"vrl", "--program", "/work/program.vrl", "--input", "/work/input.ndjson", "--print-object"}
	if r.cfg.Runner == RunnerLocal {
		args := []string{"vrl",
			"--program", filepath.Join(dir, "program.vrl"),
			"--input", filepath.Join(dir, "input.ndjson"),
			"--print-object"}
		return exec.CommandContext(ctx, r.cfg.BinaryPath, args...)
	}
	args := []string{"run", "--rm",
		"--network=none",
		"-v", dir + ":/work:ro",
		r.cfg.Image}
	args = append(args, vrlArgs...)
	return exec.CommandContext(ctx, "docker", args...)
}

// infraFailure distinguishes environment faults from script faults. Docker
// reserves 125-127 for daemon and container-start failures; a vector
// compile or runtime error exits 1 with diagnostics.
func (r *VectorRunner) infraFailure(code int, stderr string) bool {
	if r.cfg.Runner == RunnerDocker {
		if code >= 125 && code <= 127 {
			return true
		}
		lower := strings.ToLower(stderr)
		if strings.Contains(lower, "cannot connect to the docker daemon") ||
			strings.Contains(lower, "unable to find image") ||
			strings.Contains(lower, "docker: command not found") {
			return true
		}
	}
	return false
}

// encodeSample renders the sample lines as NDJSON events, the form
// `vector vrl --input` consumes. Lines that already are JSON objects pass
// through; everything else is wrapped as {"message": line}.
func encodeSample(sample vrl.SampleInput) []byte {
	var buf bytes.Buffer
	for _, line := range sample.Lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
			buf.WriteString(trimmed)
		} else {
			b, _ := json.Marshal(map[string]string{"message": line})
			buf.Write(b)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// firstEvent parses the first JSON object emitted on stdout.
func firstEvent(out []byte) map[string]any {
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(line, &doc); err == nil {
			return doc
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
