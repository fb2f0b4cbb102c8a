package silicon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overkillpi/overkill/internal/observability"
	"github.com/overkillpi/overkill/internal/overclock"
)

// ErrTestInProgress is returned when a second test is started while one is
// already running. Only one profile is ever under test at a time.
var ErrTestInProgress = errors.New("silicon test already in progress")

// Tester walks the profile ladder: apply, settle, stress under 1 Hz thermal
// monitoring, judge, cool down, and finally restore the original settings.
type Tester struct {
	Applier Applier
	Thermal Monitor
	Stress  StressStarter
	Kernel  ErrorScanner
	Grades  *GradeStore

	// Profiles is the ladder, least to most aggressive. Testing stops at the
	// first unstable rung.
	Profiles []overclock.Profile

	TestDuration    time.Duration
	SettleDelay     time.Duration
	MonitorInterval time.Duration
	CooldownPoll    time.Duration

	// TempThreshold fails a profile; TempAbort ends its test immediately;
	// CooldownTemp is the baseline waited for between rungs.
	TempThreshold float64
	TempAbort     float64
	CooldownTemp  float64

	running atomic.Bool
}

// NewTester creates a tester over the built-in ladder with the standard
// timings: 5 minutes per rung, 5 s settle, 1 Hz monitoring, 85/90 °C
// thresholds, 50 °C cooldown baseline.
func NewTester(applier Applier, monitor Monitor, stress StressStarter, kernel ErrorScanner, grades *GradeStore) *Tester {
	return &Tester{
		Applier:         applier,
		Thermal:         monitor,
		Stress:          stress,
		Kernel:          kernel,
		Grades:          grades,
		Profiles:        overclock.Ladder(),
		TestDuration:    5 * time.Minute,
		SettleDelay:     5 * time.Second,
		MonitorInterval: time.Second,
		CooldownPoll:    5 * time.Second,
		TempThreshold:   85,
		TempAbort:       90,
		CooldownTemp:    50,
	}
}

// Running reports whether a test is currently in progress
func (t *Tester) Running() bool {
	return t.running.Load()
}

// Run executes the full ladder test and grades the result. The settings
// snapshot taken before the first mutation is restored before Run returns,
// whatever happens in between. The grade is persisted when a grade store is
// configured.
func (t *Tester) Run(ctx context.Context, progress ProgressFunc) (*Grade, error) {
	if !t.running.CompareAndSwap(false, true) {
		return nil, ErrTestInProgress
	}
	defer t.running.Store(false)

	log.Printf("silicon: starting quality test, %d profiles, %s per profile",
		len(t.Profiles), t.TestDuration)

	original := t.Applier.CurrentSettings(ctx)
	defer t.restore(original)

	var results []Result
	maxStableIdx := -1

	for idx, profile := range t.Profiles {
		if ctx.Err() != nil {
			break
		}
		if progress != nil {
			progress(idx, len(t.Profiles), fmt.Sprintf("Testing %s profile...", profile.Name))
		}

		log.Printf("silicon: testing profile %s", profile.Name)
		result := t.testProfile(ctx, profile)
		results = append(results, result)

		if !result.Stable {
			// The ladder is monotonic in risk; nothing above this rung can pass
			log.Printf("silicon: profile %s failed, stopping ladder", profile.Name)
			break
		}
		maxStableIdx = idx

		if idx < len(t.Profiles)-1 {
			t.cooldown(ctx)
		}
	}

	grade := t.grade(maxStableIdx, results)
	if t.Grades != nil {
		if err := t.Grades.Save(grade); err != nil {
			log.Printf("silicon: save grade: %v", err)
			observability.CaptureError(err, map[string]string{
				"component": "silicon",
				"operation": "save_grade",
			}, nil)
		}
	}

	log.Printf("silicon: grade %s, max stable %s, recommended %s",
		grade.Grade, grade.MaxStableProfile, grade.RecommendedProfile)
	return grade, ctx.Err()
}

// TestProfile runs one profile through the same apply/stress/judge path
// without grading. Custom profiles are tested this way; they are advisory
// only and never contribute to the persisted grade.
func (t *Tester) TestProfile(ctx context.Context, profile overclock.Profile) (Result, error) {
	if !t.running.CompareAndSwap(false, true) {
		return Result{}, ErrTestInProgress
	}
	defer t.running.Store(false)

	original := t.Applier.CurrentSettings(ctx)
	defer t.restore(original)

	return t.testProfile(ctx, profile), nil
}

// testProfile applies one profile and judges it under stress. Every
// foreseeable failure, and any unexpected fault, becomes a failed Result;
// nothing escapes to abort the surrounding ladder machinery.
func (t *Tester) testProfile(ctx context.Context, profile overclock.Profile) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("silicon: unexpected fault testing %s: %v", profile.Name, r)
			observability.CaptureMessage(fmt.Sprintf("profile test fault: %v", r), map[string]string{
				"component": "silicon",
				"profile":   profile.Name,
			})
			result = Result{
				ProfileName:     profile.Name,
				Errors:          []string{fmt.Sprintf("unexpected fault: %v", r)},
				DurationSeconds: time.Since(start).Seconds(),
			}
		}
	}()

	applied := t.Applier.Apply(profile)
	if !applied.Success {
		return Result{
			ProfileName: profile.Name,
			Errors:      []string{applied.Message},
		}
	}

	// Let the hardware settle at the new operating point
	sleepContext(ctx, t.SettleDelay)

	run := &testRun{}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go t.monitor(ctx, run, stop, &wg)

	// Joined via defer so the worker never leaks, even on a fault between
	// here and the explicit join below.
	joined := false
	joinMonitor := func() {
		if !joined {
			joined = true
			close(stop)
			wg.Wait()
		}
	}
	defer joinMonitor()

	proc, err := t.Stress.Start(ctx, t.TestDuration)
	if err != nil {
		log.Printf("silicon: stress launch failed: %v", err)
		run.recordError(fmt.Sprintf("stress workload failed: %v", err))
		run.abort()
	}
	defer func() {
		if proc != nil {
			_ = proc.Stop()
		}
	}()

	// Block until the duration elapses or the monitor signals abort
	deadline := time.Now().Add(t.TestDuration)
	for time.Now().Before(deadline) {
		if run.isAborted() {
			log.Printf("silicon: test of %s aborted early", profile.Name)
			break
		}
		if !sleepContext(ctx, t.MonitorInterval) {
			break
		}
	}

	if proc != nil {
		_ = proc.Stop()
	}

	// Join the monitor before reading final state
	joinMonitor()

	temps, errs, aborted := run.snapshot()

	var maxTemp, avgTemp float64
	if len(temps) > 0 {
		sum := 0.0
		for _, temp := range temps {
			if temp > maxTemp {
				maxTemp = temp
			}
			sum += temp
		}
		avgTemp = sum / float64(len(temps))
	}

	throttled := t.Thermal.Throttle(ctx).Any()
	stable := !aborted && len(errs) == 0 && maxTemp < t.TempThreshold && !throttled

	return Result{
		ProfileName:     profile.Name,
		Stable:          stable,
		MaxTemp:         maxTemp,
		AvgTemp:         avgTemp,
		Throttled:       throttled,
		Errors:          errs,
		DurationSeconds: time.Since(start).Seconds(),
	}
}

// monitor polls temperature and the kernel log at the configured interval,
// recording into run and raising its abort flag on danger.
func (t *Tester) monitor(ctx context.Context, run *testRun, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(t.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		temp := t.Thermal.CPUTemperature(ctx)
		if temp > 0 {
			run.recordTemp(temp)
			if temp >= t.TempAbort {
				log.Printf("silicon: temperature too high: %.1f°C", temp)
				run.recordError(fmt.Sprintf("temperature exceeded %.0f°C", t.TempAbort))
				run.abort()
			}
		}

		if t.Kernel != nil {
			if kernelErrs := t.Kernel.RecentErrors(ctx); len(kernelErrs) > 0 {
				for _, e := range kernelErrs {
					run.recordError(e)
				}
				run.abort()
			}
		}
	}
}

// cooldown waits until the CPU is back at the baseline temperature before
// the next rung. Unbounded except by context cancellation.
func (t *Tester) cooldown(ctx context.Context) {
	log.Printf("silicon: cooling down to %.0f°C", t.CooldownTemp)
	for {
		temp := t.Thermal.CPUTemperature(ctx)
		if temp > 0 && temp <= t.CooldownTemp {
			return
		}
		if !sleepContext(ctx, t.CooldownPoll) {
			return
		}
	}
}

// restore re-applies the pre-test settings snapshot. Failure here leaves the
// hardware in a test state and is the one condition surfaced loudly.
func (t *Tester) restore(original overclock.Settings) {
	log.Printf("silicon: restoring original settings")
	result := t.Applier.Restore(original)
	if !result.Success {
		log.Printf("silicon: FAILED TO RESTORE ORIGINAL SETTINGS: %s — hardware is still in a test configuration, fix the boot config before rebooting", result.Message)
		observability.CaptureMessage("failed to restore settings after silicon test: "+result.Message, map[string]string{
			"component": "silicon",
			"operation": "restore",
		})
	}
}

// sleepContext sleeps for d, returning false if the context ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
