package pkgmgr

import (
	"fmt"
	"strings"
)

// APTBackend drives Debian/Ubuntu, where each driver branch is its own
// nvidia-driver-NNN package.
type APTBackend struct{}

func NewAPTBackend() *APTBackend {
	return &APTBackend{}
}

func (b *APTBackend) Manager() Manager { return APT }

func (b *APTBackend) Name() string { return "APT" }

func (b *APTBackend) AvailableQuery() Query {
	return Query{Program: "apt", Args: []string{"list", "nvidia-driver-*"}}
}

// ParseAvailable reads lines such as
// "nvidia-driver-550/noble-updates 550.120-0ubuntu0.24.04.1 amd64".
func (b *APTBackend) ParseAvailable(output string) []Package {
	return parseNameVersionLines(output,
		func(field string) string {
			name, _, _ := strings.Cut(field, "/")
			return name
		},
		func(name string) bool { return strings.HasPrefix(name, "nvidia-driver-") },
	)
}

func (b *APTBackend) ChangelogQuery() (Query, bool) { return Query{}, false }

func (b *APTBackend) CompareBuilds(a, c string) int { return compareDeb(a, c) }

func (b *APTBackend) HeaderCommands() []string {
	return []string{
		"apt-get update",
		"apt-get install -y build-essential linux-headers-$(uname -r)",
	}
}

func (b *APTBackend) RepositoryCommands() []string { return nil }

// DriverCommands pins by branch: Ubuntu packages are named after the major
// version only.
func (b *APTBackend) DriverCommands(flavor Flavor, pinned string) ([]string, error) {
	if err := checkPinned(pinned); err != nil {
		return nil, err
	}
	branch, _, _ := strings.Cut(pinned, ".")
	switch {
	case flavor == OpenKernel && pinned != "":
		return []string{fmt.Sprintf("apt-get install -y nvidia-driver-%s-open nvidia-settings", branch)}, nil
	case flavor == OpenKernel:
		return []string{"apt-get install -y nvidia-driver-open nvidia-settings"}, nil
	case pinned != "":
		return []string{fmt.Sprintf("apt-get install -y nvidia-driver-%s nvidia-settings", branch)}, nil
	default:
		return []string{"apt-get install -y nvidia-driver nvidia-settings"}, nil
	}
}

func (b *APTBackend) SupportsPinning() bool { return true }

func (b *APTBackend) AMDCommands() []string {
	return []string{"apt-get install -y xserver-xorg-video-amdgpu mesa-vulkan-drivers mesa-utils"}
}

func (b *APTBackend) RemovalCommands() []string {
	return []string{
		"apt-get remove --purge -y '^nvidia-.*' '^libnvidia-.*'",
		"apt-get autoremove -y",
	}
}

func (b *APTBackend) InitramfsCommands() []string {
	return []string{"update-initramfs -u"}
}
