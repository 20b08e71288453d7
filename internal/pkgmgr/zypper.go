package pkgmgr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	zypperProprietary = "nvidia-video-G06"
	zypperOpen        = "nvidia-open-driver-G06-signed"
)

const nvidiaOpenSUSERepo = "https://download.nvidia.com/opensuse/"

var leapVersionRe = regexp.MustCompile(`^\d+\.\d+$`)

// ZypperBackend drives openSUSE using NVIDIA's own repository.
type ZypperBackend struct {
	release string
}

// NewZypperBackend returns a backend for the release named by os-release
// ID and VERSION_ID. Leap and SLE use the matching leap/<version> tree;
// everything else, including an unknown release, uses Tumbleweed.
func NewZypperBackend(opts ...Option) *ZypperBackend {
	o := collect(opts)
	b := &ZypperBackend{release: "tumbleweed"}
	leap := o.osID == "opensuse-leap" || o.osID == "sles" || o.osID == "sled"
	if leap && leapVersionRe.MatchString(o.versionID) {
		b.release = "leap/" + o.versionID
	}
	return b
}

// RepositoryURL is the NVIDIA repository added by RepositoryCommands.
func (b *ZypperBackend) RepositoryURL() string { return nvidiaOpenSUSERepo + b.release }

func (b *ZypperBackend) Manager() Manager { return Zypper }

func (b *ZypperBackend) Name() string { return "Zypper" }

func (b *ZypperBackend) AvailableQuery() Query {
	return Query{Program: "zypper", Args: []string{
		"--non-interactive", "--quiet", "search", "--details", "--type", "package",
		zypperProprietary, zypperOpen,
	}}
}

// ParseAvailable reads the --details table:
// "   | nvidia-video-G06 | package | 565.57.01-1 | x86_64 | NVIDIA".
func (b *ZypperBackend) ParseAvailable(output string) []Package {
	var pkgs []Package
	for _, line := range strings.Split(output, "\n") {
		cols := strings.Split(line, "|")
		if len(cols) < 4 {
			continue
		}
		name := strings.TrimSpace(cols[1])
		if name != zypperProprietary && name != zypperOpen {
			continue
		}
		if pkg, ok := newPackage(name, strings.TrimSpace(cols[3])); ok {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs
}

func (b *ZypperBackend) ChangelogQuery() (Query, bool) { return Query{}, false }

func (b *ZypperBackend) CompareBuilds(a, c string) int { return compareRPM(a, c) }

func (b *ZypperBackend) HeaderCommands() []string {
	return []string{"zypper --non-interactive install kernel-devel kernel-default-devel gcc make"}
}

func (b *ZypperBackend) RepositoryCommands() []string {
	return []string{
		"zypper --non-interactive addrepo --refresh " + b.RepositoryURL() + " NVIDIA || true",
		"zypper --non-interactive --gpg-auto-import-keys refresh NVIDIA || true",
	}
}

func (b *ZypperBackend) DriverCommands(flavor Flavor, pinned string) ([]string, error) {
	if err := checkPinned(pinned); err != nil {
		return nil, err
	}
	pkg := zypperProprietary
	if flavor == OpenKernel {
		pkg = zypperOpen
	}
	switch {
	case pinned == "":
		return []string{"zypper --non-interactive install " + pkg}, nil
	case !strings.Contains(pinned, "."):
		// A bare branch has no exact package version; bound it instead.
		branch, err := strconv.Atoi(pinned)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, pinned)
		}
		return []string{fmt.Sprintf("zypper --non-interactive install '%s>=%d' '%s<%d'", pkg, branch, pkg, branch+1)}, nil
	default:
		return []string{fmt.Sprintf("zypper --non-interactive install '%s=%s'", pkg, pinned)}, nil
	}
}

func (b *ZypperBackend) SupportsPinning() bool { return true }

func (b *ZypperBackend) AMDCommands() []string {
	return []string{"zypper --non-interactive install xf86-video-amdgpu Mesa-dri libvulkan_radeon"}
}

func (b *ZypperBackend) RemovalCommands() []string {
	return []string{"zypper --non-interactive remove --clean-deps 'nvidia-*' || true"}
}

func (b *ZypperBackend) InitramfsCommands() []string {
	return []string{"mkinitrd"}
}
