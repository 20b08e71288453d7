// Package monitor samples GPU and system load for the live statistics view.
package monitor

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ro-control/ro-control/internal/executor"
	"github.com/ro-control/ro-control/internal/logging"
)

var log = logging.L("monitor")

var nvidiaSMIArgs = []string{
	"--query-gpu=temperature.gpu,utilization.gpu,memory.used,memory.total",
	"--format=csv,noheader,nounits",
}

// GPUStats comes from nvidia-smi. Memory is in MiB.
type GPUStats struct {
	Temp     uint32 `json:"temp" yaml:"temp"`
	Load     uint32 `json:"load" yaml:"load"`
	MemUsed  uint32 `json:"mem_used" yaml:"mem_used"`
	MemTotal uint32 `json:"mem_total" yaml:"mem_total"`
}

// SystemStats covers the host. RAM is in MiB, load and percent are 0-100.
type SystemStats struct {
	CPULoad    uint32 `json:"cpu_load" yaml:"cpu_load"`
	RAMUsed    uint32 `json:"ram_used" yaml:"ram_used"`
	RAMTotal   uint32 `json:"ram_total" yaml:"ram_total"`
	RAMPercent uint32 `json:"ram_percent" yaml:"ram_percent"`
	CPUTemp    uint32 `json:"cpu_temp" yaml:"cpu_temp"`
}

// Stats is one sample.
type Stats struct {
	GPU          GPUStats    `json:"gpu" yaml:"gpu"`
	GPUAvailable bool        `json:"gpu_available" yaml:"gpu_available"`
	System       SystemStats `json:"system" yaml:"system"`
}

// Monitor takes samples. Overlapping Refresh calls are dropped, not queued.
type Monitor struct {
	runner     executor.Runner
	host       hostSampler
	refreshing atomic.Bool
}

// New creates a Monitor that runs nvidia-smi through r.
func New(r executor.Runner) *Monitor {
	return &Monitor{runner: r, host: systemSampler{}}
}

// Refresh takes a sample. ok is false when another refresh is still running.
func (m *Monitor) Refresh(ctx context.Context) (stats Stats, ok bool) {
	if !m.refreshing.CompareAndSwap(false, true) {
		log.Debug("refresh already in progress, skipped")
		return Stats{}, false
	}
	defer m.refreshing.Store(false)

	stats.GPU, stats.GPUAvailable = m.gpu(ctx)
	stats.System = m.host.Sample(ctx)
	return stats, true
}

func (m *Monitor) gpu(ctx context.Context) (GPUStats, bool) {
	if !m.runner.LookPath("nvidia-smi") {
		return GPUStats{}, false
	}
	out, ok := executor.Output(ctx, m.runner, "nvidia-smi", nvidiaSMIArgs...)
	if !ok {
		return GPUStats{}, false
	}
	return parseNvidiaSMI(out)
}

// parseNvidiaSMI reads the first GPU line, "45, 3, 512, 4096". Fields that do
// not parse read as 0.
func parseNvidiaSMI(out string) (GPUStats, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return GPUStats{}, false
	}
	field := func(i int) uint32 {
		n, err := strconv.ParseUint(strings.TrimSpace(parts[i]), 10, 32)
		if err != nil {
			return 0
		}
		return uint32(n)
	}
	return GPUStats{Temp: field(0), Load: field(1), MemUsed: field(2), MemTotal: field(3)}, true
}

func clampPercent(v float64) uint32 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return uint32(v)
}
