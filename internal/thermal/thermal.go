// Package thermal provides point-in-time hardware readouts for the Pi 5:
// CPU/GPU temperature, fan speed and mode, the firmware throttle bitmask and
// a rough power estimate. Every field is independently fault-tolerant; a
// missing file or failed query degrades that one field, never the snapshot.
package thermal

import (
	"context"
	"time"
)

// ThermalState classifies the CPU temperature into coarse bands
type ThermalState string

const (
	StateNormal   ThermalState = "normal"
	StateModerate ThermalState = "moderate"
	StateHigh     ThermalState = "high"
	StateCritical ThermalState = "critical"
)

// StateForTemp returns the band for a CPU temperature in Celsius
func StateForTemp(temp float64) ThermalState {
	switch {
	case temp > 80:
		return StateCritical
	case temp > 70:
		return StateHigh
	case temp > 60:
		return StateModerate
	default:
		return StateNormal
	}
}

// ThrottleStatus decodes the firmware's 32-bit throttle word into independent
// flags
type ThrottleStatus struct {
	UnderVoltage  bool   `json:"under_voltage"`
	FreqCapped    bool   `json:"freq_capped"`
	Throttled     bool   `json:"throttled"`
	SoftTempLimit bool   `json:"soft_temp_limit"`
	Raw           uint32 `json:"raw"`
}

// DecodeThrottle splits a throttle status word into its flag bits
func DecodeThrottle(raw uint32) ThrottleStatus {
	return ThrottleStatus{
		UnderVoltage:  raw&0x1 != 0,
		FreqCapped:    raw&0x2 != 0,
		Throttled:     raw&0x4 != 0,
		SoftTempLimit: raw&0x8 != 0,
		Raw:           raw,
	}
}

// Any reports whether any throttle flag is set
func (t ThrottleStatus) Any() bool {
	return t.UnderVoltage || t.FreqCapped || t.Throttled || t.SoftTempLimit
}

// Snapshot is a single hardware poll. Pointer fields are nil when the
// underlying reading is unavailable.
type Snapshot struct {
	Timestamp    time.Time      `json:"timestamp"`
	CPUTemp      float64        `json:"cpu_temp_celsius"`
	GPUTemp      *float64       `json:"gpu_temp_celsius,omitempty"`
	FanRPM       *int           `json:"fan_rpm,omitempty"`
	FanPercent   *float64       `json:"fan_percent,omitempty"`
	PWMFreqHz    *int           `json:"pwm_freq_hz,omitempty"`
	FanMode      string         `json:"fan_mode"`
	Throttle     ThrottleStatus `json:"throttle"`
	ThermalState ThermalState   `json:"thermal_state"`
	PowerDraw    *float64       `json:"power_draw_watts,omitempty"`
}

// Monitor is the read-only view the silicon tester needs during a stress run
type Monitor interface {
	CPUTemperature(ctx context.Context) float64
	Throttle(ctx context.Context) ThrottleStatus
}
