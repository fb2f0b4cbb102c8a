// Package sysinfo summarizes the appliance host: board model, CPU, memory,
// storage and kernel, for the system information view.
package sysinfo

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/overkillpi/overkill/internal/platform"
)

// StorageDevice describes one mounted filesystem
type StorageDevice struct {
	Device      string  `json:"device"`
	Mountpoint  string  `json:"mountpoint"`
	TotalGB     float64 `json:"total_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// Info is a one-shot system summary
type Info struct {
	Model          string          `json:"model"`
	CPU            string          `json:"cpu"`
	Cores          int             `json:"cores"`
	MemoryGB       float64         `json:"memory_gb"`
	Kernel         string          `json:"kernel"`
	OS             string          `json:"os"`
	StorageDevices []StorageDevice `json:"storage_devices"`
}

// Reader interface for system information
type Reader interface {
	GetInfo(ctx context.Context) (*Info, error)
}

type reader struct{}

// NewReader creates a system information reader
func NewReader() Reader {
	return &reader{}
}

// GetInfo collects the system summary. Individual probe failures degrade
// their field rather than failing the call.
func (r *reader) GetInfo(ctx context.Context) (*Info, error) {
	info := &Info{Model: platform.Model()}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPU = cpus[0].ModelName
		info.Cores = len(cpus)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryGB = float64(vm.Total) / (1 << 30)
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Kernel = h.KernelVersion
		info.OS = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
	}

	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return info, nil
	}
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		info.StorageDevices = append(info.StorageDevices, StorageDevice{
			Device:      p.Device,
			Mountpoint:  p.Mountpoint,
			TotalGB:     float64(usage.Total) / (1 << 30),
			UsedPercent: usage.UsedPercent,
		})
	}
	return info, nil
}
