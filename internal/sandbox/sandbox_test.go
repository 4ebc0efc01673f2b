package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"vrlforge/internal/vrl"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeExecutor lets tests script outcomes and observe concurrency.
type fakeExecutor struct {
	ExecuteFunc func(ctx context.Context, script string, sample vrl.SampleInput, timeout time.Duration) (vrl.ExecutionOutcome, error)

	mu          sync.Mutex
	inFlight    int32
	maxInFlight int32
}

func (f *fakeExecutor) Execute(ctx context.Context, script string, sample vrl.SampleInput, timeout time.Duration) (vrl.ExecutionOutcome, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	if cur > f.maxInFlight {
		f.maxInFlight = cur
	}
	f.mu.Unlock()
	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(ctx, script, sample, timeout)
	}
	return vrl.ExecutionOutcome{Status: vrl.StatusSuccess}, nil
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	fake := &fakeExecutor{
		ExecuteFunc: func(ctx context.Context, _ string, _ vrl.SampleInput, _ time.Duration) (vrl.ExecutionOutcome, error) {
			time.Sleep(20 * time.Millisecond)
			return vrl.ExecutionOutcome{Status: vrl.StatusSuccess}, nil
		},
	}
	lim := NewLimiter(fake, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = lim.Execute(context.Background(), ".x = 1", vrl.SampleInput{}, time.Second)
		}()
	}
	wg.Wait()

	fake.mu.Lock()
	max := fake.maxInFlight
	fake.mu.Unlock()
	if max > 2 {
		t.Errorf("max in-flight executions = %d, want <= 2", max)
	}
	if got := lim.GetStats().Executions; got != 8 {
		t.Errorf("executions = %d, want 8", got)
	}
}

// Slots must be released on every return path, including infrastructure
// errors, or subsequent runs would deadlock.
func TestLimiterReleasesSlotOnError(t *testing.T) {
	fake := &fakeExecutor{
		ExecuteFunc: func(context.Context, string, vrl.SampleInput, time.Duration) (vrl.ExecutionOutcome, error) {
			return vrl.ExecutionOutcome{}, ErrInfrastructure
		},
	}
	lim := NewLimiter(fake, 1, nil)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := lim.Execute(ctx, ".x = 1", vrl.SampleInput{}, time.Second)
		cancel()
		if !errors.Is(err, ErrInfrastructure) {
			t.Fatalf("run %d: err = %v, want ErrInfrastructure (or the slot leaked)", i, err)
		}
	}
	if got := lim.GetStats().InfraFails; got != 3 {
		t.Errorf("infra fails = %d, want 3", got)
	}
}

func TestLimiterStatsBuckets(t *testing.T) {
	outcomes := []vrl.ExecutionOutcome{
		{Status: vrl.StatusSuccess},
		{Status: vrl.StatusFailure},
		{Status: vrl.StatusTimeout},
	}
	var idx int32
	fake := &fakeExecutor{
		ExecuteFunc: func(context.Context, string, vrl.SampleInput, time.Duration) (vrl.ExecutionOutcome, error) {
			i := atomic.AddInt32(&idx, 1) - 1
			return outcomes[i], nil
		},
	}
	lim := NewLimiter(fake, 1, nil)
	for range outcomes {
		if _, err := lim.Execute(context.Background(), ".x = 1", vrl.SampleInput{}, time.Second); err != nil {
			t.Fatal(err)
		}
	}
	stats := lim.GetStats()
	if stats.Successes != 1 || stats.Failures != 1 || stats.Timeouts != 1 {
		t.Errorf("stats = %+v, want one of each outcome", stats)
	}
}

func TestLimiterCancelledAcquire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lim := NewLimiter(&fakeExecutor{}, 1, nil)
	if _, err := lim.Execute(ctx, ".x = 1", vrl.SampleInput{}, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEncodeSample(t *testing.T) {
	sample := vrl.SampleInput{Lines: []string{
		"plain syslog line",
		`{"already":"json"}`,
	}}
	got := string(encodeSample(sample))
	want := `{"message":"plain syslog line"}` + "\n" + `{"already":"json"}` + "\n"
	if got != want {
		t.Errorf("encodeSample() = %q, want %q", got, want)
	}
}

func TestFirstEvent(t *testing.T) {
	out := []byte("warning: something\n" + `{"host":"a","level":"info"}` + "\n" + `{"second":true}`)
	doc := firstEvent(out)
	if doc == nil || doc["host"] != "a" {
		t.Errorf("firstEvent() = %v, want first JSON object", doc)
	}
	if firstEvent([]byte("no json here")) != nil {
		t.Error("firstEvent() on non-JSON output should be nil")
	}
}

func TestInfraFailureDetection(t *testing.T) {
	r, err := NewVectorRunner(DefaultVectorConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		code   int
		stderr string
		want   bool
	}{
		{125, "", true},
		{127, "", true},
		{1, "Cannot connect to the Docker daemon at unix:///var/run/docker.sock", true},
		{1, "error[E105]: call to undefined function", false},
		{0, "", false},
	}
	for _, tt := range tests {
		if got := r.infraFailure(tt.code, tt.stderr); got != tt.want {
			t.Errorf("infraFailure(%d, %q) = %v, want %v", tt.code, tt.stderr, got, tt.want)
		}
	}
}

func TestNewVectorRunnerValidation(t *testing.T) {
	if _, err := NewVectorRunner(VectorConfig{Runner: "qemu"}, nil); err == nil {
		t.Error("unknown runner should be rejected")
	}
	if _, err := NewVectorRunner(VectorConfig{Runner: RunnerDocker}, nil); err == nil ||
		!strings.Contains(err.Error(), "image") {
		t.Errorf("docker runner without image should be rejected, got %v", err)
	}
	if _, err := NewVectorRunner(VectorConfig{Runner: RunnerLocal}, nil); err != nil {
		t.Errorf("local runner should default the binary path, got %v", err)
	}
}
