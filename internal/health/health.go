// Package health samples host telemetry for the dashboard status panel.
package health

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one point-in-time reading. Fields a probe could not fill
// stay zero; a partially populated snapshot is still useful.
type Snapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsed       uint64  `json:"mem_used"`
	MemTotal      uint64  `json:"mem_total"`
	MemPercent    float64 `json:"mem_percent"`
	DiskUsed      uint64  `json:"disk_used"`
	DiskTotal     uint64  `json:"disk_total"`
	DiskPercent   float64 `json:"disk_percent"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	SampledAt     string  `json:"sampled_at"`
}

// Sample probes CPU, memory, the disk holding dataDir and host uptime.
// Individual probe failures are tolerated.
func Sample(dataDir string) Snapshot {
	snap := Snapshot{SampledAt: time.Now().UTC().Format(time.RFC3339)}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsed = vm.Used
		snap.MemTotal = vm.Total
		snap.MemPercent = vm.UsedPercent
	}
	if du, err := disk.Usage(dataDir); err == nil {
		snap.DiskUsed = du.Used
		snap.DiskTotal = du.Total
		snap.DiskPercent = du.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		snap.UptimeSeconds = up
	}
	return snap
}
