package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// hostReader covers the facts read from the kernel rather than from tools.
type hostReader interface {
	KernelRelease(ctx context.Context) string
	CPUModel(ctx context.Context) string
	MemoryTotal(ctx context.Context) uint64
}

type systemHost struct{}

func (systemHost) KernelRelease(ctx context.Context) string {
	if release := unameRelease(); release != "" {
		return release
	}
	release, err := host.KernelVersionWithContext(ctx)
	if err != nil {
		log.Warn("kernel release unavailable", "error", err)
		return ""
	}
	return strings.TrimSpace(release)
}

func (systemHost) CPUModel(ctx context.Context) string {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil || len(infos) == 0 {
		log.Debug("cpu info unavailable", "error", err)
		return ""
	}
	return strings.TrimSpace(infos[0].ModelName)
}

func (systemHost) MemoryTotal(ctx context.Context) uint64 {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Debug("memory info unavailable", "error", err)
		return 0
	}
	return vm.Total
}

func formatRAM(total uint64) string {
	const gib = 1 << 30
	switch {
	case total == 0:
		return unknown
	case total >= gib:
		return fmt.Sprintf("%.1f GB", float64(total)/gib)
	default:
		return fmt.Sprintf("%d MB", total>>20)
	}
}
