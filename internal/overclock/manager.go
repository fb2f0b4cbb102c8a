package overclock

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/overkillpi/overkill/internal/bootcfg"
)

// DefaultArmbianEnvPath is the secondary firmware environment file present on
// Armbian images only.
const DefaultArmbianEnvPath = "/boot/armbianEnv.txt"

// Manager applies overclock profiles to the boot configuration and removes
// them again. All foreseeable failures are converted into Result values; an
// apply never mutates the configuration unless a backup succeeded first.
type Manager struct {
	Boot *bootcfg.File

	// ArmbianEnvPath is checked at apply time; when the file exists a second
	// marked section is appended there (once).
	ArmbianEnvPath string

	// VcgencmdPath overrides the firmware query binary, mainly for tests.
	// Empty means "vcgencmd" from PATH.
	VcgencmdPath string
}

// NewManager creates a manager over the standard boot configuration paths
func NewManager() *Manager {
	return &Manager{
		Boot:           bootcfg.New(),
		ArmbianEnvPath: DefaultArmbianEnvPath,
	}
}

// CurrentSettings reads the frequency/voltage values currently persisted in
// the boot configuration, cross-checked against the live firmware config when
// vcgencmd is available. Missing keys fall back to stock defaults.
func (m *Manager) CurrentSettings(ctx context.Context) Settings {
	settings := Settings{
		ARMFreq: StockARMFreq,
		GPUFreq: StockGPUFreq,
	}

	content, err := m.Boot.Read()
	if err != nil {
		log.Printf("overclock: read boot config: %v", err)
	} else {
		values := bootcfg.IntValues(content, "arm_freq", "gpu_freq", "over_voltage", "over_voltage_delta")
		if v, ok := values["arm_freq"]; ok {
			settings.ARMFreq = v
		}
		if v, ok := values["gpu_freq"]; ok {
			settings.GPUFreq = v
		}
		if v, ok := values["over_voltage"]; ok {
			settings.OverVoltage = v
		}
		if v, ok := values["over_voltage_delta"]; ok {
			settings.OverVoltageDelta = v
		}
	}

	// The firmware is authoritative for the live ARM clock config
	if out, err := m.vcgencmd(ctx, "get_config", "arm_freq"); err == nil {
		if _, value, ok := strings.Cut(strings.TrimSpace(out), "="); ok {
			if v, err := strconv.Atoi(value); err == nil && v > 0 {
				settings.ARMFreq = v
			}
		}
	}

	return settings
}

// Apply validates the profile and writes it into the boot configuration's
// marked section. Validation failures return immediately without touching
// any file.
func (m *Manager) Apply(p Profile) Result {
	ok, message := Validate(p)
	if !ok {
		return Result{Success: false, Message: message, RebootRequired: false}
	}
	return m.write(p)
}

// Restore re-applies a previously captured settings snapshot. It bypasses
// validation: the snapshot was live on this board before, so rejecting it
// would strand the hardware in a test state.
func (m *Manager) Restore(s Settings) Result {
	return m.write(Profile{
		Name:             "original",
		ARMFreq:          s.ARMFreq,
		GPUFreq:          s.GPUFreq,
		OverVoltage:      s.OverVoltage,
		OverVoltageDelta: s.OverVoltageDelta,
		Description:      "Original settings",
	})
}

func (m *Manager) write(p Profile) Result {
	if _, err := m.Boot.Resolve(); err != nil {
		log.Printf("overclock: resolve boot config: %v", err)
		return Result{Success: false, Message: fmt.Sprintf("boot config not available: %v", err)}
	}

	// Backup before any mutation; a failed backup aborts the apply
	if _, err := m.Boot.Backup(); err != nil {
		log.Printf("overclock: backup failed: %v", err)
		return Result{Success: false, Message: "failed to backup boot configuration"}
	}

	content, err := m.Boot.Read()
	if err != nil {
		log.Printf("overclock: read boot config: %v", err)
		return Result{Success: false, Message: "failed to read boot configuration"}
	}

	if bootcfg.HasSection(content, bootcfg.OverclockMarker) {
		content = updateSection(content, p)
	} else {
		content += generateSection(p)
	}

	if err := m.Boot.WriteAtomic(content); err != nil {
		log.Printf("overclock: write boot config: %v", err)
		return Result{Success: false, Message: "failed to write boot configuration"}
	}

	if err := m.updateArmbianEnv(); err != nil {
		// Secondary env failures are logged but do not fail the apply
		log.Printf("overclock: update armbian env: %v", err)
	}

	log.Printf("overclock: applied profile %s (%d/%d MHz, over_voltage %d)",
		p.Name, p.ARMFreq, p.GPUFreq, p.OverVoltage)
	return Result{
		Success:        true,
		Message:        fmt.Sprintf("Successfully applied %s profile. Reboot required.", p.Name),
		RebootRequired: true,
	}
}

// Remove deletes the managed marked section from the boot configuration
func (m *Manager) Remove() Result {
	if _, err := m.Boot.Backup(); err != nil {
		log.Printf("overclock: backup failed: %v", err)
		return Result{Success: false, Message: "failed to backup boot configuration"}
	}

	content, err := m.Boot.Read()
	if err != nil {
		log.Printf("overclock: read boot config: %v", err)
		return Result{Success: false, Message: "failed to read boot configuration"}
	}

	content = bootcfg.RemoveSection(content, bootcfg.OverclockMarker)

	if err := m.Boot.WriteAtomic(content); err != nil {
		log.Printf("overclock: write boot config: %v", err)
		return Result{Success: false, Message: "failed to write boot configuration"}
	}

	return Result{
		Success:        true,
		Message:        "Overclock settings removed. Reboot required.",
		RebootRequired: true,
	}
}

// generateSection renders a fresh marked section for the profile, including
// the fixed Pi 5 platform directives.
func generateSection(p Profile) string {
	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(bootcfg.OverclockMarker + "\n")
	fmt.Fprintf(&b, "# Profile: %s\n", p.Name)
	fmt.Fprintf(&b, "# %s\n", p.Description)
	b.WriteString("dtparam=pciex1_gen=3\n")
	b.WriteString("gpu_mem=1024\n")
	b.WriteString("dtoverlay=vc4-kms-v3d-pi5\n")
	b.WriteString("max_framebuffers=3\n")
	b.WriteString("hdmi_enable_4kp60=1\n")
	b.WriteString("force_turbo=1\n")
	fmt.Fprintf(&b, "arm_freq=%d\n", p.ARMFreq)
	fmt.Fprintf(&b, "gpu_freq=%d\n", p.GPUFreq)
	fmt.Fprintf(&b, "over_voltage=%d\n", p.OverVoltage)
	if p.OverVoltageDelta > 0 {
		fmt.Fprintf(&b, "over_voltage_delta=%d\n", p.OverVoltageDelta)
	}
	return b.String()
}

// updateSection rewrites the profile keys inside an existing marked section
// via targeted line replacement, so repeated applies never duplicate keys.
func updateSection(content string, p Profile) string {
	content, _ = bootcfg.ReplaceLinePrefix(content, "# Profile: ", fmt.Sprintf("# Profile: %s", p.Name))
	content, _ = bootcfg.ReplaceLinePrefix(content, "arm_freq=", fmt.Sprintf("arm_freq=%d", p.ARMFreq))
	content, _ = bootcfg.ReplaceLinePrefix(content, "gpu_freq=", fmt.Sprintf("gpu_freq=%d", p.GPUFreq))

	var replacedVoltage bool
	content, replacedVoltage = bootcfg.ReplaceLinePrefix(content, "over_voltage=", fmt.Sprintf("over_voltage=%d", p.OverVoltage))

	if p.OverVoltageDelta > 0 {
		updated, matched := bootcfg.ReplaceLinePrefix(content, "over_voltage_delta=", fmt.Sprintf("over_voltage_delta=%d", p.OverVoltageDelta))
		if matched {
			content = updated
		} else if replacedVoltage {
			// Insert the delta right after the over_voltage line
			content, _ = bootcfg.ReplaceLinePrefix(content, "over_voltage=",
				fmt.Sprintf("over_voltage=%d\nover_voltage_delta=%d", p.OverVoltage, p.OverVoltageDelta))
		}
	}
	return content
}

// updateArmbianEnv appends the secondary marked section to the Armbian
// environment file when present. Idempotent: skipped once the marker exists.
func (m *Manager) updateArmbianEnv() error {
	if m.ArmbianEnvPath == "" {
		return nil
	}
	data, err := os.ReadFile(m.ArmbianEnvPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // not an Armbian image
		}
		return fmt.Errorf("read %s: %w", m.ArmbianEnvPath, err)
	}

	content := string(data)
	if bootcfg.HasSection(content, bootcfg.ArmbianMarker) {
		return nil
	}

	content += "\n\n" + bootcfg.ArmbianMarker + "\nextraargs=cma=512M coherent_pool=2M\n"
	if err := os.WriteFile(m.ArmbianEnvPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", m.ArmbianEnvPath, err)
	}
	return nil
}

func (m *Manager) vcgencmd(ctx context.Context, args ...string) (string, error) {
	binary := m.VcgencmdPath
	if binary == "" {
		binary = "vcgencmd"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
