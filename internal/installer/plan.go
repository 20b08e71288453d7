package installer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ro-control/ro-control/internal/pkgmgr"
)

const (
	xorgConf          = "/etc/X11/xorg.conf"
	blacklistPath     = "/etc/modprobe.d/blacklist-nouveau.conf"
	blacklistContents = "blacklist nouveau\noptions nouveau modeset=0\n"
)

var deepCleanPaths = []string{
	"/etc/X11/xorg.conf",
	"/etc/modprobe.d/nvidia*",
	"/etc/modules-load.d/nvidia*",
	"/etc/X11/xorg.conf.d/*nvidia*",
	"/usr/share/vulkan/icd.d/nvidia_icd.json",
	"/etc/vulkan/icd.d/nvidia_icd.json",
}

// Plan is an ordered list of commands for the privileged helper. Files staged
// for the plan are removed by Close.
type Plan struct {
	Title    string
	Commands []string
	staged   []string
}

// Close removes staged temporary files. It is safe to call more than once.
func (p *Plan) Close() error {
	var firstErr error
	for _, path := range p.staged {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	p.staged = nil
	return firstErr
}

func (p *Plan) add(cmds ...string) {
	p.Commands = append(p.Commands, cmds...)
}

func backupCommand(now time.Time) string {
	return fmt.Sprintf("[ -f %[1]s ] && cp %[1]s %[1]s.backup_%[2]s || true", xorgConf, now.Format("20060102_150405"))
}

// shellQuote wraps s in single quotes for the helper's shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// stageBlacklist writes the nouveau blacklist unprivileged and returns the
// command that installs it as root.
func (o *Orchestrator) stageBlacklist(p *Plan) error {
	f, err := os.CreateTemp(o.tempDir, "ro-control-blacklist-*.conf")
	if err != nil {
		return fmt.Errorf("stage blacklist: %w", err)
	}
	p.staged = append(p.staged, f.Name())
	if _, err := f.WriteString(blacklistContents); err != nil {
		f.Close()
		return fmt.Errorf("stage blacklist: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("stage blacklist: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		return fmt.Errorf("stage blacklist: %w", err)
	}
	p.add(fmt.Sprintf("install -m 0644 %s %s", shellQuote(f.Name()), blacklistPath))
	return nil
}

func (o *Orchestrator) requireBackend() (pkgmgr.Backend, error) {
	if o.backend == nil {
		return nil, ErrUnsupportedPackageManager
	}
	return o.backend, nil
}

// BuildInstallPlan assembles the NVIDIA install transaction: config backup,
// nouveau blacklist, kernel headers, third-party repository, driver packages
// and initramfs. pinned is validated before anything else happens.
func (o *Orchestrator) BuildInstallPlan(flavor pkgmgr.Flavor, pinned string) (*Plan, error) {
	if pinned != "" {
		if err := pkgmgr.ValidateVersion(pinned); err != nil {
			return nil, err
		}
	}
	b, err := o.requireBackend()
	if err != nil {
		return nil, err
	}
	driver, err := b.DriverCommands(flavor, pinned)
	if err != nil {
		return nil, err
	}

	p := &Plan{Title: nvidiaTitle(flavor)}
	p.add(backupCommand(o.now()))
	if err := o.stageBlacklist(p); err != nil {
		p.Close()
		return nil, err
	}
	p.add(b.HeaderCommands()...)
	p.add(b.RepositoryCommands()...)
	p.add(driver...)
	p.add(b.InitramfsCommands()...)
	return p, nil
}

// BuildAMDPlan installs the Mesa stack. Nothing needs blacklisting and the
// initramfs is left alone.
func (o *Orchestrator) BuildAMDPlan() (*Plan, error) {
	b, err := o.requireBackend()
	if err != nil {
		return nil, err
	}
	p := &Plan{Title: "AMD Mesa Installation"}
	p.add(backupCommand(o.now()))
	p.add(b.HeaderCommands()...)
	p.add(b.AMDCommands()...)
	return p, nil
}

// BuildRemovalPlan removes the NVIDIA driver and restores nouveau. deepClean
// also deletes leftover NVIDIA configuration and Vulkan ICD files.
func (o *Orchestrator) BuildRemovalPlan(deepClean bool) (*Plan, error) {
	b, err := o.requireBackend()
	if err != nil {
		return nil, err
	}
	p := &Plan{Title: "NVIDIA Driver Removal"}
	p.add(backupCommand(o.now()))
	p.add("rm -f " + blacklistPath)
	if deepClean {
		for _, path := range deepCleanPaths {
			p.add("rm -f " + path)
		}
	}
	p.add(b.RemovalCommands()...)
	p.add(b.InitramfsCommands()...)
	return p, nil
}

func nvidiaTitle(flavor pkgmgr.Flavor) string {
	if flavor == pkgmgr.OpenKernel {
		return "NVIDIA Open Kernel Installation"
	}
	return "NVIDIA Proprietary Installation"
}
