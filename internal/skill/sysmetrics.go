package skill

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MetricsSnapshot is a point-in-time view of the host.
type MetricsSnapshot struct {
	TakenAt        time.Time            `json:"taken_at"`
	CPUPercent     float64              `json:"cpu_percent"`
	Load1          float64              `json:"load1"`
	MemoryUsedPct  float64              `json:"memory_used_pct"`
	MemoryTotal    uint64               `json:"memory_total"`
	ProcessCount   int                  `json:"process_count"`
	DiskUsage      map[string]DiskUsage `json:"disk_usage,omitempty"`
	DegradedProbes []string             `json:"degraded_probes,omitempty"`
}

// DiskUsage is per-path filesystem usage.
type DiskUsage struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	UsedPct float64 `json:"used_pct"`
}

// SysMetrics snapshots host metrics via gopsutil. Individual probe
// failures degrade the snapshot instead of failing it; the failed
// probes are named in DegradedProbes.
type SysMetrics struct {
	// CPUSampleInterval is how long the CPU probe samples for.
	CPUSampleInterval time.Duration
}

// NewSysMetrics returns a SysMetrics with defaults.
func NewSysMetrics() *SysMetrics {
	return &SysMetrics{CPUSampleInterval: 200 * time.Millisecond}
}

// Name implements Skill.
func (s *SysMetrics) Name() string { return NameSysMetrics }

// Run implements Skill. Disk usage is probed for each root in args.
func (s *SysMetrics) Run(ctx context.Context, args Args) (*Result, error) {
	snap := s.Snapshot(ctx, args.Roots)
	status := StatusOK
	if len(snap.DegradedProbes) > 0 {
		status = StatusError
	}
	return &Result{
		Skill:  NameSysMetrics,
		Status: status,
		Summary: fmt.Sprintf("cpu %.1f%% mem %.1f%% procs %d",
			snap.CPUPercent, snap.MemoryUsedPct, snap.ProcessCount),
		Data: snap,
	}, nil
}

// Snapshot gathers all probes. Never returns nil.
func (s *SysMetrics) Snapshot(ctx context.Context, paths []string) *MetricsSnapshot {
	snap := &MetricsSnapshot{TakenAt: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, s.CPUSampleInterval, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else {
		snap.DegradedProbes = append(snap.DegradedProbes, "cpu")
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
	} else {
		snap.DegradedProbes = append(snap.DegradedProbes, "load")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryUsedPct = vm.UsedPercent
		snap.MemoryTotal = vm.Total
	} else {
		snap.DegradedProbes = append(snap.DegradedProbes, "memory")
	}

	if pids, err := process.PidsWithContext(ctx); err == nil {
		snap.ProcessCount = len(pids)
	} else {
		snap.DegradedProbes = append(snap.DegradedProbes, "process")
	}

	if len(paths) > 0 {
		snap.DiskUsage = make(map[string]DiskUsage, len(paths))
		for _, path := range paths {
			usage, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				snap.DegradedProbes = append(snap.DegradedProbes, "disk:"+path)
				continue
			}
			snap.DiskUsage[path] = DiskUsage{
				Total:   usage.Total,
				Used:    usage.Used,
				UsedPct: usage.UsedPercent,
			}
		}
	}

	return snap
}
