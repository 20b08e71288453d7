package pkgmgr

import "strings"

// PacmanBackend drives Arch-based systems. The repositories carry a single
// current build, so version pinning is not possible.
type PacmanBackend struct{}

func NewPacmanBackend() *PacmanBackend {
	return &PacmanBackend{}
}

func (b *PacmanBackend) Manager() Manager { return Pacman }

func (b *PacmanBackend) Name() string { return "pacman" }

func (b *PacmanBackend) AvailableQuery() Query {
	return Query{Program: "pacman", Args: []string{"-Ss", "^nvidia(-open)?$"}}
}

// ParseAvailable reads "extra/nvidia 565.57.01-2 [installed]" lines; the
// indented description lines are skipped.
func (b *PacmanBackend) ParseAvailable(output string) []Package {
	return parseNameVersionLines(output,
		func(field string) string {
			if _, name, ok := strings.Cut(field, "/"); ok {
				return name
			}
			return field
		},
		func(name string) bool { return name == "nvidia" || name == "nvidia-open" },
	)
}

func (b *PacmanBackend) ChangelogQuery() (Query, bool) { return Query{}, false }

// CompareBuilds uses RPM ordering; pacman's vercmp follows the same
// epoch:version-release rules.
func (b *PacmanBackend) CompareBuilds(a, c string) int { return compareRPM(a, c) }

func (b *PacmanBackend) HeaderCommands() []string {
	return []string{"pacman -Sy --noconfirm base-devel linux-headers"}
}

func (b *PacmanBackend) RepositoryCommands() []string { return nil }

func (b *PacmanBackend) DriverCommands(flavor Flavor, pinned string) ([]string, error) {
	if err := checkPinned(pinned); err != nil {
		return nil, err
	}
	if flavor == OpenKernel {
		return []string{"pacman -Sy --noconfirm nvidia-open nvidia-utils"}, nil
	}
	return []string{"pacman -Sy --noconfirm nvidia nvidia-utils nvidia-settings"}, nil
}

func (b *PacmanBackend) SupportsPinning() bool { return false }

func (b *PacmanBackend) AMDCommands() []string {
	return []string{"pacman -Sy --noconfirm xf86-video-amdgpu mesa vulkan-radeon"}
}

func (b *PacmanBackend) RemovalCommands() []string {
	return []string{"pacman -Rs --noconfirm nvidia nvidia-utils nvidia-settings nvidia-open || true"}
}

func (b *PacmanBackend) InitramfsCommands() []string {
	return []string{"mkinitcpio -P"}
}
