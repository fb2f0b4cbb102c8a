package thermal

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// AssumedMaxRPM is the ceiling used to derive a percentage when only a
// tachometer RPM is known.
const AssumedMaxRPM = 5000

const queryTimeout = 2 * time.Second

// Reader polls the Pi 5 thermal hardware. Zero-value paths fall back to the
// standard sysfs locations; all fields are overridable for tests.
type Reader struct {
	// VcgencmdPath overrides the firmware query binary. Empty means
	// "vcgencmd" from PATH.
	VcgencmdPath string

	// CPUTempPaths are kernel thermal-zone files tried when the firmware
	// query fails.
	CPUTempPaths []string

	// ThermalDir is scanned for a gpu-labelled thermal zone.
	ThermalDir string

	// PWMDirs each contain duty_cycle and period files.
	PWMDirs []string

	// CoolingDeviceDir holds cur_state/max_state for the fan cooling device.
	CoolingDeviceDir string

	// TachometerPath is a fan*_input style RPM file, typically absent.
	TachometerPath string

	// CPUFreqPath is the scaling_cur_freq file used for the power estimate.
	CPUFreqPath string

	// FanControlUnit is the systemd unit that marks the fan as
	// appliance-controlled.
	FanControlUnit string
}

// NewReader creates a reader over the standard Pi 5 sysfs paths
func NewReader() *Reader {
	return &Reader{
		CPUTempPaths: []string{"/sys/class/thermal/thermal_zone0/temp"},
		ThermalDir:   "/sys/class/thermal",
		PWMDirs: []string{
			"/sys/devices/platform/soc/fe20c000.pwm/pwm/pwmchip0/pwm0",
			"/sys/devices/platform/soc/fec00000.pwm/pwm/pwmchip1/pwm0",
		},
		CoolingDeviceDir: "/sys/class/thermal/cooling_device0",
		CPUFreqPath:      "/sys/devices/system/cpu/cpu0/cpufreq/scaling_cur_freq",
		FanControlUnit:   "overkill-fan-control",
	}
}

// Snapshot performs one hardware poll. It never fails: unavailable readings
// degrade to zero values or nil pointers.
func (r *Reader) Snapshot(ctx context.Context) *Snapshot {
	s := &Snapshot{
		Timestamp: time.Now(),
		CPUTemp:   r.CPUTemperature(ctx),
		GPUTemp:   r.gpuTemperature(),
		FanMode:   r.fanMode(ctx),
		Throttle:  r.Throttle(ctx),
	}
	s.ThermalState = StateForTemp(s.CPUTemp)

	s.FanPercent, s.PWMFreqHz, s.FanRPM = r.fanSpeed()
	s.PowerDraw = r.powerEstimate(s.FanPercent)
	return s
}

// CPUTemperature returns the CPU temperature in Celsius, or 0 when no source
// can be read.
func (r *Reader) CPUTemperature(ctx context.Context) float64 {
	// Firmware query first: "temp=61.2'C"
	if out, err := r.vcgencmd(ctx, "measure_temp"); err == nil {
		if _, value, ok := strings.Cut(strings.TrimSpace(out), "="); ok {
			value = strings.TrimSuffix(value, "'C")
			if temp, err := strconv.ParseFloat(value, 64); err == nil {
				return temp
			}
		}
	}

	// Kernel thermal zone fallback, millidegrees
	for _, path := range r.CPUTempPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if raw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64); err == nil {
			return raw / 1000.0
		}
	}

	// Last resort: host sensor inventory
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, temp := range temps {
			key := strings.ToLower(temp.SensorKey)
			if strings.Contains(key, "cpu") || strings.Contains(key, "soc") {
				return temp.Temperature
			}
		}
	}

	return 0
}

// Throttle queries the firmware throttle word. A failed query decodes as all
// clear.
func (r *Reader) Throttle(ctx context.Context) ThrottleStatus {
	out, err := r.vcgencmd(ctx, "get_throttled")
	if err != nil {
		return ThrottleStatus{}
	}
	// Format: "throttled=0x50005"
	_, value, ok := strings.Cut(strings.TrimSpace(out), "=")
	if !ok {
		return ThrottleStatus{}
	}
	raw, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 32)
	if err != nil {
		return ThrottleStatus{}
	}
	return DecodeThrottle(uint32(raw))
}

func (r *Reader) gpuTemperature() *float64 {
	zones, err := filepath.Glob(filepath.Join(r.ThermalDir, "thermal_zone*"))
	if err != nil {
		return nil
	}
	for _, zone := range zones {
		typeData, err := os.ReadFile(filepath.Join(zone, "type"))
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(string(typeData)), "gpu") {
			continue
		}
		tempData, err := os.ReadFile(filepath.Join(zone, "temp"))
		if err != nil {
			continue
		}
		if raw, err := strconv.ParseFloat(strings.TrimSpace(string(tempData)), 64); err == nil {
			temp := raw / 1000.0
			return &temp
		}
	}
	return nil
}

// fanSpeed resolves fan speed through the fallback chain: PWM duty ratio,
// cooling device state ratio, then tachometer.
func (r *Reader) fanSpeed() (percent *float64, pwmFreq *int, rpm *int) {
	// Method 1: PWM duty_cycle/period ratio
	for _, dir := range r.PWMDirs {
		duty, errDuty := readIntFile(filepath.Join(dir, "duty_cycle"))
		period, errPeriod := readIntFile(filepath.Join(dir, "period"))
		if errDuty != nil || errPeriod != nil || period <= 0 {
			continue
		}
		pct := float64(duty) / float64(period) * 100
		freq := int(1e9 / float64(period)) // period is in ns
		percent, pwmFreq = &pct, &freq
		break
	}

	// Method 2: cooling device cur/max state ratio
	if percent == nil && r.CoolingDeviceDir != "" {
		cur, errCur := readIntFile(filepath.Join(r.CoolingDeviceDir, "cur_state"))
		max, errMax := readIntFile(filepath.Join(r.CoolingDeviceDir, "max_state"))
		if errCur == nil && errMax == nil && max > 0 {
			pct := float64(cur) / float64(max) * 100
			percent = &pct
		}
	}

	// Method 3: tachometer, usually absent
	if r.TachometerPath != "" {
		if v, err := readIntFile(r.TachometerPath); err == nil && v > 0 {
			rpm = &v
			if percent == nil {
				pct := float64(v) / AssumedMaxRPM * 100
				if pct > 100 {
					pct = 100
				}
				percent = &pct
			}
		}
	}

	return percent, pwmFreq, rpm
}

func (r *Reader) fanMode(ctx context.Context) string {
	if r.FanControlUnit != "" {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		err := exec.CommandContext(qctx, "systemctl", "is-active", "--quiet", r.FanControlUnit).Run()
		cancel()
		if err == nil {
			return "appliance"
		}
	}

	for _, path := range r.CPUTempPaths {
		policy, err := os.ReadFile(filepath.Join(filepath.Dir(path), "policy"))
		if err == nil {
			return "system (" + strings.TrimSpace(string(policy)) + ")"
		}
	}
	return "unknown"
}

// powerEstimate derives a rough power figure from the current CPU clock:
// ~5W base plus ~3W per GHz, plus fan power when spinning.
func (r *Reader) powerEstimate(fanPercent *float64) *float64 {
	freqKHz, err := readIntFile(r.CPUFreqPath)
	if err != nil || freqKHz <= 0 {
		return nil
	}
	power := 5.0 + float64(freqKHz)/1e6*3.0
	if fanPercent != nil && *fanPercent > 0 {
		power += 0.5
	}
	return &power
}

func (r *Reader) vcgencmd(ctx context.Context, args ...string) (string, error) {
	binary := r.VcgencmdPath
	if binary == "" {
		binary = "vcgencmd"
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func readIntFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
