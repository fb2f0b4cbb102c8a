// Package silicon grades an individual chip's overclocking headroom by
// walking the built-in profile ladder under stress while watching
// temperature, throttling and kernel errors. Hardware settings captured
// before a run are restored on every exit path.
package silicon

import (
	"context"
	"sync"
	"time"

	"github.com/overkillpi/overkill/internal/overclock"
	"github.com/overkillpi/overkill/internal/stress"
	"github.com/overkillpi/overkill/internal/thermal"
)

// Result is the outcome of stress testing one profile
type Result struct {
	ProfileName     string   `json:"profile"`
	Stable          bool     `json:"stable"`
	MaxTemp         float64  `json:"max_temp_celsius"`
	AvgTemp         float64  `json:"avg_temp_celsius"`
	Throttled       bool     `json:"throttled"`
	Errors          []string `json:"errors,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// Grade is the final verdict of a full ladder run
type Grade struct {
	Grade              string    `json:"grade"`
	Description        string    `json:"description"`
	MaxStableProfile   string    `json:"max_stable_profile"`
	RecommendedProfile string    `json:"recommended_profile"`
	TestedAt           time.Time `json:"test_date"`
	Results            []Result  `json:"test_results"`
}

// Applier is the overclock surface the tester drives
type Applier interface {
	CurrentSettings(ctx context.Context) overclock.Settings
	Apply(p overclock.Profile) overclock.Result
	Restore(s overclock.Settings) overclock.Result
}

// StressProc is a handle on a running stress workload
type StressProc interface {
	Stop() error
}

// StressStarter launches stress workloads
type StressStarter interface {
	Start(ctx context.Context, duration time.Duration) (StressProc, error)
}

// StressAdapter bridges the concrete stress runner to StressStarter
type StressAdapter struct {
	Runner *stress.Runner
}

func (a StressAdapter) Start(ctx context.Context, duration time.Duration) (StressProc, error) {
	t, err := a.Runner.Start(ctx, duration)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ErrorScanner reports recent kernel-level errors
type ErrorScanner interface {
	RecentErrors(ctx context.Context) []string
}

// ProgressFunc observes ladder progress: current index, total count, message
type ProgressFunc func(index, total int, message string)

// Monitor is the thermal surface the tester polls
type Monitor = thermal.Monitor

// testRun owns the mutable state of one in-progress profile test. It is
// written by the monitoring goroutine and read by the orchestrator after the
// goroutine is joined.
type testRun struct {
	mu      sync.Mutex
	temps   []float64
	errs    []string
	aborted bool
}

func (r *testRun) recordTemp(t float64) {
	r.mu.Lock()
	r.temps = append(r.temps, t)
	r.mu.Unlock()
}

func (r *testRun) recordError(message string) {
	r.mu.Lock()
	r.errs = append(r.errs, message)
	r.mu.Unlock()
}

func (r *testRun) abort() {
	r.mu.Lock()
	r.aborted = true
	r.mu.Unlock()
}

func (r *testRun) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// snapshot returns the final state. Call only after the monitor goroutine has
// been joined.
func (r *testRun) snapshot() (temps []float64, errs []string, aborted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.temps, r.errs, r.aborted
}
