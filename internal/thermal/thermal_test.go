package thermal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDecodeThrottle(t *testing.T) {
	tests := []struct {
		raw  uint32
		want ThrottleStatus
	}{
		{0x0, ThrottleStatus{}},
		{0x1, ThrottleStatus{UnderVoltage: true, Raw: 0x1}},
		{0x2, ThrottleStatus{FreqCapped: true, Raw: 0x2}},
		{0x4, ThrottleStatus{Throttled: true, Raw: 0x4}},
		{0x8, ThrottleStatus{SoftTempLimit: true, Raw: 0x8}},
		{0xF, ThrottleStatus{UnderVoltage: true, FreqCapped: true, Throttled: true, SoftTempLimit: true, Raw: 0xF}},
		// High bits record past events and do not set the live flags
		{0x50000, ThrottleStatus{Raw: 0x50000}},
		{0x50005, ThrottleStatus{UnderVoltage: true, Throttled: true, Raw: 0x50005}},
	}

	for _, tt := range tests {
		got := DecodeThrottle(tt.raw)
		if got != tt.want {
			t.Errorf("DecodeThrottle(%#x) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestThrottleAny(t *testing.T) {
	if (ThrottleStatus{}).Any() {
		t.Error("clear status reported throttled")
	}
	if !(ThrottleStatus{FreqCapped: true}).Any() {
		t.Error("freq-capped status not reported")
	}
}

func TestStateForTemp(t *testing.T) {
	tests := []struct {
		temp float64
		want ThermalState
	}{
		{45, StateNormal},
		{60, StateNormal},
		{61, StateModerate},
		{71, StateHigh},
		{81, StateCritical},
	}
	for _, tt := range tests {
		if got := StateForTemp(tt.temp); got != tt.want {
			t.Errorf("StateForTemp(%v) = %v, want %v", tt.temp, got, tt.want)
		}
	}
}

// fakeVcgencmd writes an executable that prints the given line
func fakeVcgencmd(t *testing.T, stdout string) string {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("fake command requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "vcgencmd")
	script := fmt.Sprintf("#!/bin/sh\necho \"%s\"\n", stdout)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCPUTemperatureFromFirmware(t *testing.T) {
	r := &Reader{VcgencmdPath: fakeVcgencmd(t, "temp=61.2'C")}

	if got := r.CPUTemperature(context.Background()); got != 61.2 {
		t.Errorf("CPUTemperature() = %v, want 61.2", got)
	}
}

func TestCPUTemperatureThermalZoneFallback(t *testing.T) {
	zone := filepath.Join(t.TempDir(), "temp")
	if err := os.WriteFile(zone, []byte("54321\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r := &Reader{
		VcgencmdPath: "/nonexistent/vcgencmd",
		CPUTempPaths: []string{zone},
	}

	if got := r.CPUTemperature(context.Background()); got != 54.321 {
		t.Errorf("CPUTemperature() = %v, want 54.321", got)
	}
}

func TestThrottleFromFirmware(t *testing.T) {
	r := &Reader{VcgencmdPath: fakeVcgencmd(t, "throttled=0x50005")}

	got := r.Throttle(context.Background())
	if !got.UnderVoltage || !got.Throttled || got.FreqCapped || got.SoftTempLimit {
		t.Errorf("Throttle() = %+v", got)
	}
	if got.Raw != 0x50005 {
		t.Errorf("Raw = %#x, want 0x50005", got.Raw)
	}
}

func TestThrottleDegradesToClear(t *testing.T) {
	r := &Reader{VcgencmdPath: "/nonexistent/vcgencmd"}
	if got := r.Throttle(context.Background()); got.Any() {
		t.Errorf("Throttle() with no firmware tool = %+v, want all clear", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFanSpeedFromPWM(t *testing.T) {
	dir := t.TempDir()
	pwm := filepath.Join(dir, "pwm0")
	writeFile(t, filepath.Join(pwm, "duty_cycle"), "20000\n")
	writeFile(t, filepath.Join(pwm, "period"), "40000\n")

	r := &Reader{PWMDirs: []string{pwm}}
	percent, pwmFreq, rpm := r.fanSpeed()

	if percent == nil || *percent != 50 {
		t.Errorf("percent = %v, want 50", percent)
	}
	if pwmFreq == nil || *pwmFreq != 25000 {
		t.Errorf("pwmFreq = %v, want 25000", pwmFreq)
	}
	if rpm != nil {
		t.Errorf("rpm = %v, want nil", *rpm)
	}
}

func TestFanSpeedCoolingDeviceFallback(t *testing.T) {
	cooling := filepath.Join(t.TempDir(), "cooling_device0")
	writeFile(t, filepath.Join(cooling, "cur_state"), "2\n")
	writeFile(t, filepath.Join(cooling, "max_state"), "4\n")

	r := &Reader{
		PWMDirs:          []string{"/nonexistent/pwm0"},
		CoolingDeviceDir: cooling,
	}
	percent, _, _ := r.fanSpeed()

	if percent == nil || *percent != 50 {
		t.Errorf("percent = %v, want 50", percent)
	}
}

func TestFanSpeedTachometerFallback(t *testing.T) {
	tach := filepath.Join(t.TempDir(), "fan1_input")
	writeFile(t, tach, "2500\n")

	r := &Reader{TachometerPath: tach}
	percent, _, rpm := r.fanSpeed()

	if rpm == nil || *rpm != 2500 {
		t.Errorf("rpm = %v, want 2500", rpm)
	}
	// 2500 of the assumed 5000 RPM ceiling
	if percent == nil || *percent != 50 {
		t.Errorf("percent = %v, want 50", percent)
	}
}

func TestFanSpeedAllUnavailable(t *testing.T) {
	r := &Reader{}
	percent, pwmFreq, rpm := r.fanSpeed()
	if percent != nil || pwmFreq != nil || rpm != nil {
		t.Error("expected all fan readings to be unknown")
	}
}

func TestPowerEstimate(t *testing.T) {
	freq := filepath.Join(t.TempDir(), "scaling_cur_freq")
	writeFile(t, freq, "2400000\n") // 2.4 GHz in kHz

	r := &Reader{CPUFreqPath: freq}
	power := r.powerEstimate(nil)
	if power == nil {
		t.Fatal("power estimate unavailable")
	}
	// 5 + 2.4*3 = 12.2
	if *power < 12.19 || *power > 12.21 {
		t.Errorf("power = %v, want ~12.2", *power)
	}

	fan := 60.0
	withFan := r.powerEstimate(&fan)
	if withFan == nil || *withFan <= *power {
		t.Errorf("fan power not added: %v", withFan)
	}
}

func TestSnapshotNeverFails(t *testing.T) {
	// Everything missing: snapshot still comes back with degraded fields
	r := &Reader{
		VcgencmdPath:   "/nonexistent/vcgencmd",
		CPUTempPaths:   []string{"/nonexistent/temp"},
		ThermalDir:     "/nonexistent",
		CPUFreqPath:    "/nonexistent/freq",
		FanControlUnit: "",
	}
	s := r.Snapshot(context.Background())
	if s == nil {
		t.Fatal("Snapshot() returned nil")
	}
	if s.Throttle.Any() {
		t.Error("degraded throttle should be all clear")
	}
	if s.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
