package pkgmgr

import "fmt"

// Manager identifies one of the supported package managers.
type Manager string

const (
	DNF    Manager = "dnf"
	APT    Manager = "apt"
	Pacman Manager = "pacman"
	Zypper Manager = "zypper"
)

// Flavor selects the NVIDIA kernel module variant.
type Flavor int

const (
	Proprietary Flavor = iota
	OpenKernel
)

func (f Flavor) String() string {
	switch f {
	case Proprietary:
		return "proprietary"
	case OpenKernel:
		return "open"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// Package is one driver package build offered by the local repositories.
type Package struct {
	Name    string // e.g. "akmod-nvidia"
	Build   string // native version string, e.g. "3:565.57.01-1.fc41"
	Version string // upstream driver version, e.g. "565.57.01"
}

// Query is an unprivileged command used to inspect the repositories.
type Query struct {
	Program string
	Args    []string
}

// Backend knows the query and install/remove syntax of one package manager.
// Command strings returned here are run by the privileged helper, one per step.
type Backend interface {
	Manager() Manager
	Name() string

	// AvailableQuery lists installable driver packages.
	AvailableQuery() Query
	// ParseAvailable extracts driver packages from AvailableQuery output.
	ParseAvailable(output string) []Package
	// ChangelogQuery returns the changelog query, if the manager has one whose
	// output uses "*"-started entries.
	ChangelogQuery() (Query, bool)
	// CompareBuilds orders two native version strings.
	CompareBuilds(a, b string) int

	HeaderCommands() []string
	RepositoryCommands() []string
	// DriverCommands installs the NVIDIA driver. pinned is empty or a version
	// accepted by ValidateVersion; anything else returns ErrInvalidVersion.
	DriverCommands(flavor Flavor, pinned string) ([]string, error)
	// SupportsPinning reports whether DriverCommands honors pinned.
	SupportsPinning() bool
	AMDCommands() []string
	RemovalCommands() []string
	InitramfsCommands() []string
}
