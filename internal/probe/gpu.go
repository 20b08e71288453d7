package probe

import (
	"context"
	"strings"

	"github.com/ro-control/ro-control/internal/executor"
)

var displayClasses = []string{"VGA", "3D controller", "Display controller"}

// DetectGPU reads lspci. Missing tools leave fields at their defaults: a
// vendor of "System", an "Unknown" driver and Secure Boot off.
func (p *Prober) DetectGPU(ctx context.Context) GPUInfo {
	info := GPUInfo{DriverInUse: unknown}

	if p.runner.LookPath("lspci") {
		if out, ok := executor.Output(ctx, p.runner, "lspci", "-vmm"); ok {
			info.Vendor, info.Model = parseDevices(out)
		}
		if out, ok := executor.Output(ctx, p.runner, "lspci", "-k"); ok {
			if d := parseDriverInUse(out); d != "" {
				info.DriverInUse = d
			}
		}
	}
	if info.Vendor == "" {
		info.Vendor = "System"
		info.Model = "Graphics Adapter"
	}

	if p.runner.LookPath("mokutil") {
		if out, ok := executor.Output(ctx, p.runner, "mokutil", "--sb-state"); ok {
			info.SecureBoot = strings.Contains(out, "SecureBoot enabled")
		}
	}
	return info
}

// parseDevices walks "lspci -vmm" blocks and returns the first display
// adapter from a known vendor, or the first display adapter at all.
func parseDevices(out string) (vendor, model string) {
	for _, block := range strings.Split(out, "\n\n") {
		if !isDisplayBlock(block) {
			continue
		}
		fields := make(map[string]string)
		for _, line := range strings.Split(block, "\n") {
			if k, v, ok := strings.Cut(line, ":"); ok {
				fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
		rawVendor, device := fields["Vendor"], fields["Device"]
		if canonical := canonicalVendor(rawVendor); canonical != "" {
			return canonical, device
		}
		if vendor == "" {
			vendor, model = rawVendor, device
		}
	}
	return vendor, model
}

func isDisplayBlock(block string) bool {
	for _, class := range displayClasses {
		if strings.Contains(block, class) {
			return true
		}
	}
	return false
}

func canonicalVendor(v string) string {
	switch {
	case strings.Contains(v, "NVIDIA"):
		return "NVIDIA"
	case strings.Contains(v, "Advanced Micro Devices"), strings.Contains(v, "AMD"):
		return "AMD"
	case strings.Contains(v, "Intel"):
		return "Intel"
	default:
		return ""
	}
}

// parseDriverInUse returns the first "Kernel driver in use" that follows a
// display controller line in "lspci -k".
func parseDriverInUse(out string) string {
	capture := false
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "VGA") || strings.Contains(line, "3D controller") {
			capture = true
		}
		if !capture {
			continue
		}
		if _, after, ok := strings.Cut(line, "Kernel driver in use:"); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}
