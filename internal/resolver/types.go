package resolver

import "fmt"

// Source says where a resolved version was found.
type Source int

const (
	// Repo versions exist only in the local repositories.
	Repo Source = iota
	// Official versions were only seen online.
	Official
	// Merged versions were seen online and matched a local package.
	Merged
)

func (s Source) String() string {
	switch s {
	case Repo:
		return "repo"
	case Official:
		return "nvidia-official"
	case Merged:
		return "merged"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// MarshalText encodes the source as its wire name for JSON and YAML.
func (s Source) MarshalText() ([]byte, error) {
	switch s {
	case Repo, Official, Merged:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown source %d", int(s))
	}
}

// UnmarshalText decodes a wire name.
func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "repo":
		*s = Repo
	case "nvidia-official":
		*s = Official
	case "merged":
		*s = Merged
	default:
		return fmt.Errorf("unknown source %q", b)
	}
	return nil
}

// DriverVersion is one ranked driver release candidate.
type DriverVersion struct {
	Version      string `json:"version" yaml:"version"`
	Source       Source `json:"source" yaml:"source"`
	ReleaseNotes string `json:"release_notes" yaml:"release_notes"`
	IsLatest     bool   `json:"is_latest" yaml:"is_latest"`
	Installable  bool   `json:"installable" yaml:"installable"`
	Compatible   bool   `json:"compatible" yaml:"compatible"`
	// Build is the newest native package build backing the entry, empty
	// when nothing local matched.
	Build string `json:"build,omitempty" yaml:"build,omitempty"`
}
