package pkgmgr

import (
	"fmt"
	"strings"
)

const rpmFusionRelease = "dnf install -y " +
	"https://download1.rpmfusion.org/free/fedora/rpmfusion-free-release-$(rpm -E %fedora).noarch.rpm " +
	"https://download1.rpmfusion.org/nonfree/fedora/rpmfusion-nonfree-release-$(rpm -E %fedora).noarch.rpm || true"

// DNFBackend drives Fedora/RHEL, where NVIDIA ships via RPM Fusion akmods.
type DNFBackend struct{}

func NewDNFBackend() *DNFBackend {
	return &DNFBackend{}
}

func (b *DNFBackend) Manager() Manager { return DNF }

func (b *DNFBackend) Name() string { return "DNF/RPM Fusion" }

func (b *DNFBackend) AvailableQuery() Query {
	return Query{Program: "dnf", Args: []string{"list", "--available", "akmod-nvidia*"}}
}

// ParseAvailable reads lines such as
// "akmod-nvidia.x86_64   3:565.57.01-1.fc41   rpmfusion-nonfree-updates".
func (b *DNFBackend) ParseAvailable(output string) []Package {
	return parseNameVersionLines(output,
		func(field string) string {
			if idx := strings.LastIndex(field, "."); idx > 0 {
				return field[:idx]
			}
			return field
		},
		func(name string) bool { return strings.HasPrefix(name, "akmod-nvidia") },
	)
}

func (b *DNFBackend) ChangelogQuery() (Query, bool) {
	return Query{Program: "dnf", Args: []string{"--refresh", "repoquery", "--changelog", "akmod-nvidia"}}, true
}

func (b *DNFBackend) CompareBuilds(a, c string) int { return compareRPM(a, c) }

func (b *DNFBackend) HeaderCommands() []string {
	return []string{"dnf install -y kernel-devel kernel-headers gcc make"}
}

func (b *DNFBackend) RepositoryCommands() []string {
	return []string{rpmFusionRelease}
}

func (b *DNFBackend) DriverCommands(flavor Flavor, pinned string) ([]string, error) {
	if err := checkPinned(pinned); err != nil {
		return nil, err
	}
	switch {
	case flavor == OpenKernel && pinned != "":
		return []string{fmt.Sprintf("dnf install -y 'akmod-nvidia-open-%s*' nvidia-settings", pinned)}, nil
	case flavor == OpenKernel:
		return []string{"dnf install -y akmod-nvidia-open nvidia-settings"}, nil
	case pinned != "":
		return []string{fmt.Sprintf("dnf install -y 'akmod-nvidia-%[1]s*' 'xorg-x11-drv-nvidia-cuda-%[1]s*' nvidia-settings", pinned)}, nil
	default:
		return []string{"dnf install -y akmod-nvidia xorg-x11-drv-nvidia-cuda nvidia-settings"}, nil
	}
}

func (b *DNFBackend) SupportsPinning() bool { return true }

func (b *DNFBackend) AMDCommands() []string {
	return []string{"dnf install -y xorg-x11-drv-amdgpu mesa-dri-drivers mesa-vulkan-drivers"}
}

func (b *DNFBackend) RemovalCommands() []string {
	return []string{"dnf remove -y '*nvidia*' '*kmod-nvidia*' || true"}
}

func (b *DNFBackend) InitramfsCommands() []string {
	return []string{"dracut --force"}
}
