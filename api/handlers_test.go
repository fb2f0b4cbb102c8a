package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/overkillpi/overkill/internal/bootcfg"
	"github.com/overkillpi/overkill/internal/fan"
	"github.com/overkillpi/overkill/internal/overclock"
	"github.com/overkillpi/overkill/internal/silicon"
	"github.com/overkillpi/overkill/internal/sysinfo"
	"github.com/overkillpi/overkill/internal/thermal"
)

type coolMonitor struct{}

func (coolMonitor) CPUTemperature(ctx context.Context) float64 { return 42 }

func (coolMonitor) Throttle(ctx context.Context) thermal.ThrottleStatus {
	return thermal.ThrottleStatus{}
}

type nopProc struct{}

func (nopProc) Stop() error { return nil }

type nopStress struct{}

func (nopStress) Start(ctx context.Context, d time.Duration) (silicon.StressProc, error) {
	return nopProc{}, nil
}

type testEnv struct {
	server     *Server
	bootConfig string
	gradePath  string
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	bootConfig := filepath.Join(dir, "config.txt")
	gradePath := filepath.Join(dir, "grade.json")

	manager := &overclock.Manager{
		Boot:           bootcfg.New(bootConfig),
		ArmbianEnvPath: filepath.Join(dir, "armbianEnv.txt"),
		VcgencmdPath:   filepath.Join(dir, "missing-vcgencmd"),
	}
	grades := silicon.NewGradeStore(gradePath)

	tester := silicon.NewTester(manager, coolMonitor{}, nopStress{}, nil, grades)
	tester.TestDuration = 100 * time.Millisecond
	tester.SettleDelay = time.Millisecond
	tester.MonitorInterval = 5 * time.Millisecond
	tester.CooldownPoll = time.Millisecond

	coolingDir := filepath.Join(dir, "cooling")
	if err := os.MkdirAll(coolingDir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(coolingDir, "cur_state"), []byte("2\n"), 0644)
	os.WriteFile(filepath.Join(coolingDir, "max_state"), []byte("4\n"), 0644)

	fanCtl := fan.NewController(nil)
	fanCtl.CoolingDeviceDir = coolingDir

	server := NewServer(Components{
		System:    sysinfo.NewReader(),
		Thermal:   &thermal.Reader{VcgencmdPath: filepath.Join(dir, "missing-vcgencmd")},
		Overclock: manager,
		Profiles:  overclock.NewStore(filepath.Join(dir, "profiles")),
		Tester:    tester,
		Grades:    grades,
		Fan:       fanCtl,
	})
	return &testEnv{server: server, bootConfig: bootConfig, gradePath: gradePath}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "GET", "/api/health", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestProfileListing(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "GET", "/api/overclock/profiles", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var profiles []map[string]any
	decode(t, resp, &profiles)
	if len(profiles) != 5 {
		t.Fatalf("got %d profiles, want the 5 built-ins", len(profiles))
	}
	if profiles[0]["name"] != "stock" {
		t.Errorf("first profile = %v, want stock", profiles[0]["name"])
	}
	if profiles[0]["cooling_requirement"] == "" {
		t.Error("profiles must carry a cooling advisory")
	}
}

func TestSaveProfileRejectsReservedName(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "POST", "/api/overclock/profiles", overclock.Profile{
		Name: "extreme", ARMFreq: 2500, GPUFreq: 950,
	})
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSaveAndDeleteCustomProfile(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "POST", "/api/overclock/profiles", overclock.Profile{
		Name: "daily", ARMFreq: 2700, GPUFreq: 960, OverVoltage: 3,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("save status = %d", resp.StatusCode)
	}

	resp = env.do(t, "GET", "/api/overclock/profiles", nil)
	var profiles []map[string]any
	decode(t, resp, &profiles)
	if len(profiles) != 6 {
		t.Fatalf("got %d profiles after save, want 6", len(profiles))
	}

	resp = env.do(t, "DELETE", "/api/overclock/profiles/daily", nil)
	if resp.StatusCode != 200 {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp = env.do(t, "DELETE", "/api/overclock/profiles/daily", nil)
	if resp.StatusCode != 404 {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestApplyProfileByName(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "POST", "/api/overclock/apply", map[string]string{"name": "mild"})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var result overclock.Result
	decode(t, resp, &result)
	if !result.Success || !result.RebootRequired {
		t.Errorf("result = %+v", result)
	}

	content, err := os.ReadFile(env.bootConfig)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "arm_freq=2600") {
		t.Error("boot config missing mild arm_freq")
	}
}

func TestApplyRiskyProfileNeedsConfirmation(t *testing.T) {
	env := newTestServer(t)

	// extreme validates with a voltage warning, so a plain apply is held back
	resp := env.do(t, "POST", "/api/overclock/apply", map[string]string{"name": "extreme"})
	if resp.StatusCode != 409 {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["confirm_required"] != true {
		t.Errorf("response = %v, want confirm_required", body)
	}
	if content, err := os.ReadFile(env.bootConfig); err == nil && strings.Contains(string(content), "arm_freq") {
		t.Error("boot config mutated without confirmation")
	}

	resp = env.do(t, "POST", "/api/overclock/apply?confirm=true", map[string]string{"name": "extreme"})
	if resp.StatusCode != 200 {
		t.Errorf("confirmed apply status = %d", resp.StatusCode)
	}
}

func TestApplyUnknownProfile(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "POST", "/api/overclock/apply", map[string]string{"name": "nonsense"})
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestApplyRejectsOutOfRangeProfile(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "POST", "/api/overclock/apply", overclock.Profile{
		Name: "hot", ARMFreq: 5000, GPUFreq: 910,
	})
	if resp.StatusCode != 422 {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestRemoveOverclock(t *testing.T) {
	env := newTestServer(t)
	env.do(t, "POST", "/api/overclock/apply", map[string]string{"name": "mild"})

	resp := env.do(t, "POST", "/api/overclock/remove", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	content, err := os.ReadFile(env.bootConfig)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "arm_freq") {
		t.Error("overclock section still present after remove")
	}
}

func TestSiliconTestFlow(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, "GET", "/api/silicon/grade", nil)
	if resp.StatusCode != 404 {
		t.Errorf("grade before test: status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/api/silicon/test", nil)
	if resp.StatusCode != 202 {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	// A second start while the ladder is running is rejected
	resp = env.do(t, "POST", "/api/silicon/test", nil)
	if resp.StatusCode != 409 {
		t.Errorf("concurrent start status = %d, want 409", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	var status map[string]any
	for {
		resp = env.do(t, "GET", "/api/silicon/test", nil)
		status = nil
		decode(t, resp, &status)
		if status["running"] == false {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("silicon test did not finish")
		}
		time.Sleep(20 * time.Millisecond)
	}

	grade, ok := status["grade"].(map[string]any)
	if !ok {
		t.Fatalf("status has no grade: %v", status)
	}
	// Every rung passes on the cool fake hardware
	if grade["grade"] != "S+" {
		t.Errorf("grade = %v, want S+", grade["grade"])
	}

	resp = env.do(t, "GET", "/api/silicon/grade", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("grade status = %d", resp.StatusCode)
	}
	var record silicon.Record
	decode(t, resp, &record)
	if record.RecommendedProfile != "aggressive" {
		t.Errorf("recommended = %s, want aggressive", record.RecommendedProfile)
	}
}

func TestCustomProfileTestRejectsInvalid(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, "POST", "/api/silicon/test/profile", overclock.Profile{
		Name: "bad", ARMFreq: 200, GPUFreq: 910,
	})
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFanEndpoints(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, "GET", "/api/fan", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var info fan.Info
	decode(t, resp, &info)
	if info.Percent != 50 {
		t.Errorf("percent = %v, want 50", info.Percent)
	}

	resp = env.do(t, "POST", "/api/fan/settings", fan.Settings{Mode: "warp"})
	if resp.StatusCode != 400 {
		t.Errorf("bad mode status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/api/fan/settings", fan.Settings{Mode: fan.ModeFixed, FixedSpeed: 75})
	if resp.StatusCode != 200 {
		t.Errorf("fixed mode status = %d", resp.StatusCode)
	}
}
