package silicon

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// recentLines bounds how far back in the kernel log the scan looks.
const recentLines = 50

// KernelLog scans the kernel ring buffer for error-severity entries during a
// stress run
type KernelLog struct {
	// Command overrides the log-reading invocation, mainly for tests.
	Command []string
}

// NewKernelLog creates a scanner over dmesg filtered to error severity and
// above
func NewKernelLog() *KernelLog {
	return &KernelLog{
		Command: []string{"dmesg", "-T", "--level=err,crit,alert,emerg"},
	}
}

// RecentErrors returns recent error/failure lines. A failed dmesg invocation
// degrades to no findings rather than failing the monitor.
func (k *KernelLog) RecentErrors(ctx context.Context) []string {
	if len(k.Command) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, k.Command[0], k.Command[1:]...).Output()
	if err != nil {
		return nil
	}
	return ScanForErrors(string(out))
}

// ScanForErrors picks error/failure keyword lines out of the most recent
// portion of kernel log output
func ScanForErrors(output string) []string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > recentLines {
		lines = lines[len(lines)-recentLines:]
	}

	var found []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
			found = append(found, "kernel: "+line)
		}
	}
	return found
}
