// Package stress runs a bounded all-core CPU/memory/IO saturation workload
// via stress-ng and supervises its lifetime.
package stress

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/overkillpi/overkill/internal/observability"
)

var terminateSignal = syscall.SIGTERM

// graceWindow is how much past the requested duration the child process is
// allowed to live before it is killed, in case stress-ng itself hangs.
const graceWindow = 30 * time.Second

// Runner launches stress workloads. The zero value uses stress-ng from PATH
// with two VM and two IO workers.
type Runner struct {
	// Binary overrides the workload tool, mainly for tests. Empty means
	// "stress-ng" from PATH.
	Binary string

	// VMWorkers/VMBytes/IOWorkers size the memory and IO pressure parts of
	// the workload. Zero values select the defaults (2 workers, 256M).
	VMWorkers int
	VMBytes   string
	IOWorkers int
}

// NewRunner creates a runner with the default workload shape
func NewRunner() *Runner {
	return &Runner{}
}

// Test is a handle on one running stress workload
type Test struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool
}

// Start launches the workload for the given duration. The child carries its
// own --timeout and is additionally killed a grace window past the deadline.
// A missing tool is reported as an error, not a crash.
func (r *Runner) Start(ctx context.Context, duration time.Duration) (*Test, error) {
	binary := r.Binary
	if binary == "" {
		binary = "stress-ng"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("stress tool not available: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, duration+graceWindow)
	cmd := exec.CommandContext(runCtx, path, r.args(runCtx, duration)...)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start stress workload: %w", err)
	}

	log.Printf("stress: started %s for %s (pid %d)", path, duration, cmd.Process.Pid)

	t := &Test{cmd: cmd, cancel: cancel}
	go func() {
		// Reap the child so Stop never leaves a zombie behind
		err := cmd.Wait()
		t.mu.Lock()
		t.done = true
		t.mu.Unlock()
		cancel()
		if err != nil && runCtx.Err() == nil {
			log.Printf("stress: workload exited: %v", err)
			observability.CaptureError(err, map[string]string{
				"component": "stress",
				"operation": "workload",
			}, nil)
		}
	}()
	return t, nil
}

// args builds the stress-ng invocation: saturate every logical core plus
// memory and IO pressure.
func (r *Runner) args(ctx context.Context, duration time.Duration) []string {
	cores := logicalCores(ctx)

	vmWorkers := r.VMWorkers
	if vmWorkers == 0 {
		vmWorkers = 2
	}
	vmBytes := r.VMBytes
	if vmBytes == "" {
		vmBytes = "256M"
	}
	ioWorkers := r.IOWorkers
	if ioWorkers == 0 {
		ioWorkers = 2
	}

	return []string{
		"--cpu", strconv.Itoa(cores),
		"--cpu-method", "all",
		"--cache", "0",
		"--vm", strconv.Itoa(vmWorkers),
		"--vm-bytes", vmBytes,
		"--io", strconv.Itoa(ioWorkers),
		"--timeout", fmt.Sprintf("%ds", int(duration.Seconds())),
		"--metrics-brief",
	}
}

// Stop terminates the workload without waiting for its own timeout
func (t *Test) Stop() error {
	t.mu.Lock()
	alreadyDone := t.done
	t.mu.Unlock()
	if alreadyDone {
		return nil
	}

	if t.cmd.Process != nil {
		// SIGTERM first; the context kill is the backstop
		_ = t.cmd.Process.Signal(terminateSignal)
	}
	t.cancel()
	return nil
}

// Running reports whether the workload is still alive
func (t *Test) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

func logicalCores(ctx context.Context) int {
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}
