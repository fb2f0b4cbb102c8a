package fan

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newFakeDevice(t *testing.T, cur, max int) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cur_state"), []byte(strconv.Itoa(cur)+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_state"), []byte(strconv.Itoa(max)+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func readCurState(t *testing.T, dir string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "cur_state"))
	if err != nil {
		t.Fatal(err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestStatus(t *testing.T) {
	c := NewController(nil)
	c.CoolingDeviceDir = newFakeDevice(t, 2, 4)

	info, err := c.Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if info.State != 2 || info.MaxState != 4 {
		t.Errorf("state = %d/%d, want 2/4", info.State, info.MaxState)
	}
	if info.Percent != 50 {
		t.Errorf("percent = %v, want 50", info.Percent)
	}
	if info.Mode != ModeAuto {
		t.Errorf("mode = %s, want auto", info.Mode)
	}
}

func TestSetFixedSpeed(t *testing.T) {
	c := NewController(nil)
	dir := newFakeDevice(t, 0, 4)
	c.CoolingDeviceDir = dir

	if err := c.SetSettings(&Settings{Mode: ModeFixed, FixedSpeed: 100}); err != nil {
		t.Fatalf("SetSettings error: %v", err)
	}
	if got := readCurState(t, dir); got != 4 {
		t.Errorf("cur_state = %d, want 4", got)
	}

	if err := c.SetSettings(&Settings{Mode: ModeFixed, FixedSpeed: 50}); err != nil {
		t.Fatalf("SetSettings error: %v", err)
	}
	if got := readCurState(t, dir); got != 2 {
		t.Errorf("cur_state = %d, want 2", got)
	}
}

func TestSetFixedSpeedRejectsOutOfRange(t *testing.T) {
	c := NewController(nil)
	c.CoolingDeviceDir = newFakeDevice(t, 0, 4)

	for _, speed := range []int{-1, 101} {
		if err := c.SetSettings(&Settings{Mode: ModeFixed, FixedSpeed: speed}); err == nil {
			t.Errorf("accepted fixed speed %d", speed)
		}
	}
}

func TestCurveValidation(t *testing.T) {
	c := NewController(func(ctx context.Context) float64 { return 50 })
	c.CoolingDeviceDir = newFakeDevice(t, 0, 4)

	cases := []struct {
		name  string
		curve []CurvePoint
	}{
		{"too few points", []CurvePoint{{50, 50}}},
		{"temperature out of range", []CurvePoint{{-5, 0}, {80, 100}}},
		{"speed out of range", []CurvePoint{{40, 0}, {80, 150}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.SetSettings(&Settings{Mode: ModeCurve, Curve: tc.curve}); err == nil {
				t.Error("invalid curve accepted")
			}
		})
	}
}

func TestCurveModeTracksTemperature(t *testing.T) {
	c := NewController(func(ctx context.Context) float64 { return 60 })
	dir := newFakeDevice(t, 0, 4)
	c.CoolingDeviceDir = dir
	c.CurveInterval = 5 * time.Millisecond
	defer c.Close()

	err := c.SetSettings(&Settings{Mode: ModeCurve, Curve: []CurvePoint{
		{40, 0},
		{80, 100},
	}})
	if err != nil {
		t.Fatalf("SetSettings error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if readCurState(t, dir) == 2 {
			return // 60°C is halfway up the curve
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("cur_state = %d, want 2", readCurState(t, dir))
}

func TestSwitchingToAutoStopsCurve(t *testing.T) {
	c := NewController(func(ctx context.Context) float64 { return 90 })
	dir := newFakeDevice(t, 0, 4)
	c.CoolingDeviceDir = dir
	c.CurveInterval = 5 * time.Millisecond

	err := c.SetSettings(&Settings{Mode: ModeCurve, Curve: []CurvePoint{{40, 0}, {80, 100}}})
	if err != nil {
		t.Fatalf("SetSettings error: %v", err)
	}
	if err := c.SetSettings(&Settings{Mode: ModeAuto}); err != nil {
		t.Fatalf("SetSettings error: %v", err)
	}

	s := c.GetSettings()
	if s.Mode != ModeAuto {
		t.Errorf("mode = %s, want auto", s.Mode)
	}
}

func TestInterpolateSpeed(t *testing.T) {
	curve := []CurvePoint{
		{40, 0},
		{60, 50},
		{80, 100},
	}
	cases := []struct {
		temp, want int
	}{
		{20, 0},
		{40, 0},
		{50, 25},
		{60, 50},
		{70, 75},
		{80, 100},
		{95, 100},
	}
	for _, tc := range cases {
		if got := InterpolateSpeed(curve, tc.temp); got != tc.want {
			t.Errorf("InterpolateSpeed(%d) = %d, want %d", tc.temp, got, tc.want)
		}
	}
}
