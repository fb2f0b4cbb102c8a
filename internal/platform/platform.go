package platform

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// SupportedOS represents supported operating systems
type SupportedOS string

const (
	Linux SupportedOS = "linux"
)

// ModelPath is the device-tree node holding the board model string
var ModelPath = "/proc/device-tree/model"

// GetOS returns the current operating system
func GetOS() SupportedOS {
	return SupportedOS(runtime.GOOS)
}

// IsSupported returns true if the current OS is supported
func IsSupported() bool {
	return GetOS() == Linux
}

// ValidateSupport returns an error if the current OS is not supported
func ValidateSupport() error {
	if !IsSupported() {
		return fmt.Errorf("unsupported operating system: %s. Supported: linux", runtime.GOOS)
	}
	return nil
}

// Model returns the board model string from the device tree, or "unknown"
// if it cannot be read
func Model() string {
	data, err := os.ReadFile(ModelPath)
	if err != nil {
		return "unknown"
	}
	// Device-tree strings are NUL terminated
	return strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
}

// IsPi5 returns true if the board identifies as a Raspberry Pi 5
func IsPi5() bool {
	return strings.Contains(Model(), "Raspberry Pi 5")
}
