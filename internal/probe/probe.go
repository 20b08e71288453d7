// Package probe gathers the host facts the driver manager decides on: GPU,
// distribution, kernel release and Secure Boot state.
package probe

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ro-control/ro-control/internal/executor"
	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/pkgmgr"
)

var log = logging.L("probe")

const unknown = "Unknown"

// GPUInfo describes the primary display adapter.
type GPUInfo struct {
	Vendor      string `json:"vendor" yaml:"vendor"` // NVIDIA, AMD, Intel or System
	Model       string `json:"model" yaml:"model"`
	DriverInUse string `json:"driver_in_use" yaml:"driver_in_use"`
	SecureBoot  bool   `json:"secure_boot" yaml:"secure_boot"`
}

// OSInfo is the subset of os-release the manager uses.
type OSInfo struct {
	ID        string   `json:"id" yaml:"id"`
	IDLike    []string `json:"id_like,omitempty" yaml:"id_like,omitempty"`
	VersionID string   `json:"version_id" yaml:"version_id"`
	Name      string   `json:"name" yaml:"name"`
}

// SystemInfo is the full host description shown in diagnostics.
type SystemInfo struct {
	GPU           GPUInfo `json:"gpu" yaml:"gpu"`
	OS            OSInfo  `json:"os" yaml:"os"`
	Kernel        string  `json:"kernel" yaml:"kernel"`
	CPU           string  `json:"cpu" yaml:"cpu"`
	RAM           string  `json:"ram" yaml:"ram"`
	DisplayServer string  `json:"display_server" yaml:"display_server"`
}

// Prober runs the detection commands. SystemInfo and OS results are computed
// once per Prober and never invalidated.
type Prober struct {
	runner        executor.Runner
	osReleasePath string
	getenv        func(string) string
	host          hostReader

	osOnce sync.Once
	osInfo OSInfo

	infoOnce sync.Once
	info     SystemInfo
}

// Option configures a Prober.
type Option func(*Prober)

// WithOSReleasePath reads distribution info from path instead of /etc/os-release.
func WithOSReleasePath(path string) Option {
	return func(p *Prober) {
		p.osReleasePath = path
	}
}

// WithGetenv replaces environment lookups.
func WithGetenv(fn func(string) string) Option {
	return func(p *Prober) {
		p.getenv = fn
	}
}

func withHost(h hostReader) Option {
	return func(p *Prober) {
		p.host = h
	}
}

// New creates a Prober that runs its commands through r.
func New(r executor.Runner, opts ...Option) *Prober {
	p := &Prober{
		runner:        r,
		osReleasePath: "/etc/os-release",
		getenv:        os.Getenv,
		host:          systemHost{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DetectOS returns the cached os-release identity.
func (p *Prober) DetectOS() OSInfo {
	p.osOnce.Do(func() {
		p.osInfo = readOSRelease(p.osReleasePath)
	})
	return p.osInfo
}

// PackageManager maps the distribution ID onto a supported package manager.
func (p *Prober) PackageManager() (pkgmgr.Manager, bool) {
	info := p.DetectOS()
	return pkgmgr.ForOSRelease(info.ID, info.IDLike...)
}

// KernelRelease returns the running kernel release, e.g. "6.11.4-301.fc41.x86_64".
// It is empty when it cannot be determined.
func (p *Prober) KernelRelease(ctx context.Context) string {
	return p.host.KernelRelease(ctx)
}

// SystemInfo collects everything once, running the independent probes in
// parallel.
func (p *Prober) SystemInfo(ctx context.Context) SystemInfo {
	p.infoOnce.Do(func() {
		p.info = p.collect(ctx)
	})
	return p.info
}

func (p *Prober) collect(ctx context.Context) SystemInfo {
	info := SystemInfo{
		OS:            p.DetectOS(),
		DisplayServer: p.getenv("XDG_SESSION_TYPE"),
	}
	if info.DisplayServer == "" {
		info.DisplayServer = unknown
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info.GPU = p.DetectGPU(gctx)
		return nil
	})
	g.Go(func() error {
		info.Kernel = p.host.KernelRelease(gctx)
		return nil
	})
	g.Go(func() error {
		info.CPU = p.host.CPUModel(gctx)
		return nil
	})
	g.Go(func() error {
		info.RAM = formatRAM(p.host.MemoryTotal(gctx))
		return nil
	})
	_ = g.Wait()

	if info.Kernel == "" {
		info.Kernel = unknown
	}
	if info.CPU == "" {
		info.CPU = unknown
	}
	log.Info("system probed",
		"gpuVendor", info.GPU.Vendor,
		"driverInUse", info.GPU.DriverInUse,
		"os", info.OS.ID,
		"kernel", info.Kernel)
	return info
}
