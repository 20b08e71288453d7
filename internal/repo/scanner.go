// Package repo reads driver versions and changelog notes from the local
// package repositories.
package repo

import (
	"context"
	"regexp"
	"strings"

	"github.com/ro-control/ro-control/internal/executor"
	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/pkgmgr"
	"github.com/ro-control/ro-control/internal/version"
)

var log = logging.L("repo")

const (
	// DefaultChangelogLines caps how much changelog output is examined.
	DefaultChangelogLines = 280

	// maxChangelogVersions is how many local versions get a summary.
	maxChangelogVersions = 8

	// NotesUnavailable is the summary for versions without a changelog entry.
	NotesUnavailable = "Official repository metadata checked. Detailed notes unavailable."
)

// FallbackVersions is returned when the repositories cannot be queried.
var FallbackVersions = []string{"565", "550", "535"}

var (
	changelogFullRe  = regexp.MustCompile(`\b(\d{3}\.\d{2,3}(?:\.\d+)?)\b`)
	changelogMajorRe = regexp.MustCompile(`\b(\d{3})\b`)
)

// Changelog pairs a local version with a short summary.
type Changelog struct {
	Version string
	Notes   string
}

// Snapshot is the result of a single repository scan.
type Snapshot struct {
	Versions  []string          // descending, deduplicated
	Changelog []Changelog       // first versions with their summaries
	Builds    map[string]string // upstream version -> newest native build
	Fallback  bool              // Versions is FallbackVersions
}

// Scanner queries the repositories through one package manager backend. A nil
// backend means the distribution is unsupported.
type Scanner struct {
	runner    executor.Runner
	backend   pkgmgr.Backend
	lineLimit int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithChangelogLines overrides DefaultChangelogLines.
func WithChangelogLines(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.lineLimit = n
		}
	}
}

// NewScanner creates a Scanner. backend may be nil.
func NewScanner(r executor.Runner, backend pkgmgr.Backend, opts ...Option) *Scanner {
	s := &Scanner{runner: r, backend: backend, lineLimit: DefaultChangelogLines}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListAvailableVersions returns the installable upstream versions, newest
// first, or FallbackVersions when nothing usable comes back.
func (s *Scanner) ListAvailableVersions(ctx context.Context) []string {
	versions, _ := versionsOf(s.packages(ctx))
	return versions
}

// ListVersionsWithChangelog summarizes the newest local versions from the
// repository changelog.
func (s *Scanner) ListVersionsWithChangelog(ctx context.Context) []Changelog {
	versions, _ := versionsOf(s.packages(ctx))
	return summarize(versions, s.changelogNotes(ctx))
}

// Builds maps each upstream version to its newest native build string.
func (s *Scanner) Builds(ctx context.Context) map[string]string {
	return s.newestBuilds(s.packages(ctx))
}

// Scan lists the repositories once and derives everything from that listing.
func (s *Scanner) Scan(ctx context.Context) Snapshot {
	pkgs := s.packages(ctx)
	versions, fallback := versionsOf(pkgs)
	return Snapshot{
		Versions:  versions,
		Changelog: summarize(versions, s.changelogNotes(ctx)),
		Builds:    s.newestBuilds(pkgs),
		Fallback:  fallback,
	}
}

func (s *Scanner) packages(ctx context.Context) []pkgmgr.Package {
	if s.backend == nil {
		log.Warn("no supported package manager, using fallback versions")
		return nil
	}
	q := s.backend.AvailableQuery()
	if !s.runner.LookPath(q.Program) {
		log.Warn("package manager not installed", logging.KeyManager, s.backend.Manager())
		return nil
	}
	out, ok := executor.Output(ctx, s.runner, q.Program, q.Args...)
	if !ok {
		log.Warn("repository query failed", logging.KeyManager, s.backend.Manager())
		return nil
	}
	pkgs := s.backend.ParseAvailable(out)
	log.Debug("repository listed", logging.KeyManager, s.backend.Manager(), "packages", len(pkgs))
	return pkgs
}

func versionsOf(pkgs []pkgmgr.Package) ([]string, bool) {
	seen := make(map[string]struct{}, len(pkgs))
	var versions []string
	for _, p := range pkgs {
		if _, dup := seen[p.Version]; dup {
			continue
		}
		seen[p.Version] = struct{}{}
		versions = append(versions, p.Version)
	}
	if len(versions) == 0 {
		return append([]string(nil), FallbackVersions...), true
	}
	version.SortDescending(versions)
	return versions, false
}

func (s *Scanner) newestBuilds(pkgs []pkgmgr.Package) map[string]string {
	builds := make(map[string]string)
	for _, p := range pkgs {
		cur, ok := builds[p.Version]
		if !ok || s.backend.CompareBuilds(p.Build, cur) > 0 {
			builds[p.Version] = p.Build
		}
	}
	return builds
}

// changelogNotes runs the backend's changelog query, if any, and parses the
// first lineLimit lines.
func (s *Scanner) changelogNotes(ctx context.Context) []Changelog {
	if s.backend == nil {
		return nil
	}
	q, ok := s.backend.ChangelogQuery()
	if !ok || !s.runner.LookPath(q.Program) {
		return nil
	}
	out, ok := executor.Output(ctx, s.runner, q.Program, q.Args...)
	if !ok {
		log.Warn("changelog query failed", logging.KeyManager, s.backend.Manager())
		return nil
	}
	return ParseChangelog(headLines(out, s.lineLimit))
}

func headLines(s string, n int) []string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}

// ParseChangelog splits "*"-started entries, takes the version token from each
// header and keeps at most two body lines. The first entry seen for a version
// wins; the result is in entry order.
func ParseChangelog(lines []string) []Changelog {
	var (
		entries []Changelog
		seen    = make(map[string]bool)
		current string
		body    []string
	)
	flush := func() {
		if current != "" && len(body) > 0 && !seen[current] {
			seen[current] = true
			entries = append(entries, Changelog{Version: current, Notes: strings.Join(body, " ")})
		}
		current, body = "", nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "*"):
			flush()
			current = headerVersion(trimmed)
		case trimmed != "" && current != "" && len(body) < 2:
			body = append(body, strings.TrimSpace(strings.TrimLeft(trimmed, "-")))
		}
	}
	flush()
	return entries
}

func headerVersion(header string) string {
	if m := changelogFullRe.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	if m := changelogMajorRe.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return ""
}

func summarize(versions []string, notes []Changelog) []Changelog {
	if len(versions) > maxChangelogVersions {
		versions = versions[:maxChangelogVersions]
	}
	out := make([]Changelog, 0, len(versions))
	for _, v := range versions {
		summary := NotesUnavailable
		for _, n := range notes {
			if strings.HasPrefix(v, n.Version) || strings.HasPrefix(n.Version, v) {
				summary = n.Notes
				break
			}
		}
		out = append(out, Changelog{Version: v, Notes: summary})
	}
	return out
}
