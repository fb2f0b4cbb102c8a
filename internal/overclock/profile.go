package overclock

import "fmt"

// Safe parameter ranges for the Raspberry Pi 5 firmware.
const (
	ARMFreqMin  = 600
	ARMFreqMax  = 3200
	ARMFreqSafe = 2800

	GPUFreqMin  = 500
	GPUFreqMax  = 1100
	GPUFreqSafe = 1000

	VoltageMin  = 0
	VoltageMax  = 8
	VoltageSafe = 6

	VoltageDeltaMax = 100000
)

// Stock clocks for the Pi 5, used as restore defaults and in the power model.
const (
	StockARMFreq = 2400
	StockGPUFreq = 910
)

// Profile is an immutable set of frequency/voltage parameters applied
// together
type Profile struct {
	Name             string `json:"name"`
	ARMFreq          int    `json:"arm_freq_mhz"`
	GPUFreq          int    `json:"gpu_freq_mhz"`
	OverVoltage      int    `json:"over_voltage"`
	OverVoltageDelta int    `json:"over_voltage_delta_uv"`
	Description      string `json:"description"`
}

// Result represents the outcome of an apply/remove operation
type Result struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RebootRequired bool   `json:"reboot_required"`
}

// Settings holds the raw frequency/voltage values currently present in the
// boot configuration
type Settings struct {
	ARMFreq          int `json:"arm_freq_mhz"`
	GPUFreq          int `json:"gpu_freq_mhz"`
	OverVoltage      int `json:"over_voltage"`
	OverVoltageDelta int `json:"over_voltage_delta_uv"`
}

// Ladder is the fixed ordered sequence of built-in profiles used for
// progressive silicon testing, least to most aggressive.
func Ladder() []Profile {
	return []Profile{
		{Name: "stock", ARMFreq: 2400, GPUFreq: 910, OverVoltage: 0, OverVoltageDelta: 0, Description: "Stock settings"},
		{Name: "mild", ARMFreq: 2600, GPUFreq: 950, OverVoltage: 2, OverVoltageDelta: 0, Description: "Mild overclock"},
		{Name: "moderate", ARMFreq: 2800, GPUFreq: 1000, OverVoltage: 4, OverVoltageDelta: 0, Description: "Moderate overclock"},
		{Name: "aggressive", ARMFreq: 3000, GPUFreq: 1050, OverVoltage: 6, OverVoltageDelta: 50000, Description: "Aggressive overclock"},
		{Name: "extreme", ARMFreq: 3200, GPUFreq: 1100, OverVoltage: 8, OverVoltageDelta: 100000, Description: "Extreme overclock"},
	}
}

// CoolingTier classifies the cooling needed for a profile's estimated power
// draw
type CoolingTier int

const (
	CoolingStock CoolingTier = iota
	CoolingActive
	CoolingHighPerformance
	CoolingExtreme
)

// String returns the advisory text for the tier
func (c CoolingTier) String() string {
	switch c {
	case CoolingStock:
		return "Stock cooler sufficient"
	case CoolingActive:
		return "Active cooling recommended"
	case CoolingHighPerformance:
		return "High-performance cooling required"
	case CoolingExtreme:
		return "Extreme cooling required (tower cooler/water)"
	}
	return "unknown"
}

// Validate range-checks a candidate profile. It is pure and performs no I/O.
// A false result carries a rejection message; a true result may still carry
// a warning message (voltage above the safe sub-threshold) that callers must
// confirm with the user before applying.
func Validate(p Profile) (bool, string) {
	if p.ARMFreq < ARMFreqMin {
		return false, fmt.Sprintf("ARM frequency too low (minimum %d MHz)", ARMFreqMin)
	}
	if p.ARMFreq > ARMFreqMax {
		return false, fmt.Sprintf("ARM frequency too high (maximum %d MHz)", ARMFreqMax)
	}
	if p.GPUFreq < GPUFreqMin {
		return false, fmt.Sprintf("GPU frequency too low (minimum %d MHz)", GPUFreqMin)
	}
	if p.GPUFreq > GPUFreqMax {
		return false, fmt.Sprintf("GPU frequency too high (maximum %d MHz)", GPUFreqMax)
	}
	if p.OverVoltage < VoltageMin {
		return false, "voltage cannot be negative"
	}
	if p.OverVoltage > VoltageMax {
		return false, fmt.Sprintf("voltage too high (maximum %d)", VoltageMax)
	}
	if p.OverVoltageDelta < 0 {
		return false, "voltage delta cannot be negative"
	}
	if p.OverVoltageDelta > VoltageDeltaMax {
		return false, fmt.Sprintf("voltage delta too high (maximum %d)", VoltageDeltaMax)
	}

	if p.OverVoltage > VoltageSafe {
		return true, fmt.Sprintf("WARNING: voltage above %d may damage your Pi", VoltageSafe)
	}
	if p.ARMFreq > ARMFreqSafe {
		return true, fmt.Sprintf("WARNING: ARM frequency above %d MHz requires excellent cooling", ARMFreqSafe)
	}
	if p.GPUFreq > GPUFreqSafe {
		return true, fmt.Sprintf("WARNING: GPU frequency above %d MHz may cause instability", GPUFreqSafe)
	}
	return true, ""
}

// PowerEstimate returns a rough power draw in watts for the given ARM
// frequency and voltage step
func PowerEstimate(armFreq, overVoltage int) float64 {
	base := 5.0
	freqFactor := float64(armFreq-StockARMFreq) / 1000.0 * 2.0
	voltageFactor := float64(overVoltage) * 0.5
	return base + freqFactor + voltageFactor
}

// CoolingRequirement maps a profile's estimated power draw to a cooling tier
func CoolingRequirement(armFreq, overVoltage int) CoolingTier {
	power := PowerEstimate(armFreq, overVoltage)
	switch {
	case power < 8:
		return CoolingStock
	case power < 12:
		return CoolingActive
	case power < 15:
		return CoolingHighPerformance
	default:
		return CoolingExtreme
	}
}
