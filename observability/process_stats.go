package observability

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// ProcessStats is a snapshot of this process and of the host memory.
type ProcessStats struct {
	CPUPercent  float64
	RSSBytes    uint64
	SystemFree  uint64
	SystemTotal uint64
}

// CurrentProcessStats samples CPU and memory usage of the running process.
func CurrentProcessStats() (ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}, fmt.Errorf("inspect process: %w", err)
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("process memory: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("process cpu: %w", err)
	}
	stats := ProcessStats{
		CPUPercent: cpu,
		RSSBytes:   memInfo.RSS,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.SystemFree = vm.Available
		stats.SystemTotal = vm.Total
	}
	return stats, nil
}

// LogAttrs flattens the snapshot into slog key/value pairs.
func (s ProcessStats) LogAttrs() []any {
	return []any{
		"cpu_percent", fmt.Sprintf("%.2f", s.CPUPercent),
		"rss_mb", s.RSSBytes / (1024 * 1024),
		"system_free_mb", s.SystemFree / (1024 * 1024),
		"system_total_mb", s.SystemTotal / (1024 * 1024),
	}
}
