package pkgmgr

import "fmt"

var osIDManagers = map[string]Manager{
	"fedora":              DNF,
	"rhel":                DNF,
	"centos":              DNF,
	"rocky":               DNF,
	"almalinux":           DNF,
	"ubuntu":              APT,
	"debian":              APT,
	"linuxmint":           APT,
	"pop":                 APT,
	"arch":                Pacman,
	"manjaro":             Pacman,
	"endeavouros":         Pacman,
	"opensuse":            Zypper,
	"sles":                Zypper,
	"opensuse-leap":       Zypper,
	"opensuse-tumbleweed": Zypper,
}

// ForOSRelease maps an os-release ID to its package manager, falling back to
// the ID_LIKE entries for derivatives that are not listed explicitly.
func ForOSRelease(id string, idLike ...string) (Manager, bool) {
	if m, ok := osIDManagers[id]; ok {
		return m, true
	}
	for _, like := range idLike {
		if m, ok := osIDManagers[like]; ok {
			return m, true
		}
	}
	return "", false
}

// Option describes the host a backend is built for.
type Option func(*options)

type options struct {
	osID      string
	versionID string
}

// WithOSRelease passes the os-release ID and VERSION_ID to backends whose
// repositories differ per release.
func WithOSRelease(id, versionID string) Option {
	return func(o *options) {
		o.osID = id
		o.versionID = versionID
	}
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the backend for m.
func New(m Manager, opts ...Option) (Backend, error) {
	switch m {
	case DNF:
		return NewDNFBackend(), nil
	case APT:
		return NewAPTBackend(), nil
	case Pacman:
		return NewPacmanBackend(), nil
	case Zypper:
		return NewZypperBackend(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported package manager %q", m)
	}
}

// Managers returns the supported managers in a fixed order.
func Managers() []Manager {
	return []Manager{DNF, APT, Pacman, Zypper}
}
