// Package resolver merges local repository versions with online releases into
// one ranked list.
package resolver

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/ro-control/ro-control/internal/compat"
	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/remote"
	"github.com/ro-control/ro-control/internal/repo"
	"github.com/ro-control/ro-control/internal/version"
)

var log = logging.L("resolver")

const (
	// DefaultMaxVersions caps the resolved list.
	DefaultMaxVersions = 12

	// LocalOnlyNotes is used for repository versions without changelog notes.
	LocalOnlyNotes = "Available in local repository"
)

// LocalSource scans the local repositories. *repo.Scanner implements it.
type LocalSource interface {
	Scan(ctx context.Context) repo.Snapshot
}

// OnlineSource fetches online releases. *remote.Fetcher implements it.
type OnlineSource interface {
	Fetch(ctx context.Context) []remote.Release
}

// KernelSource reports the running kernel. *probe.Prober implements it.
type KernelSource interface {
	KernelRelease(ctx context.Context) string
}

// Resolver produces the merged version list.
type Resolver struct {
	local       LocalSource
	online      OnlineSource
	kernel      KernelSource
	maxVersions int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxVersions overrides DefaultMaxVersions.
func WithMaxVersions(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxVersions = n
		}
	}
}

// New creates a Resolver. kernel may be nil, which marks every version
// compatible.
func New(local LocalSource, online OnlineSource, kernel KernelSource, opts ...Option) *Resolver {
	r := &Resolver{
		local:       local,
		online:      online,
		kernel:      kernel,
		maxVersions: DefaultMaxVersions,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve scans, fetches and merges. The local scan runs before the online
// fetch; neither can fail.
func (r *Resolver) Resolve(ctx context.Context) []DriverVersion {
	start := time.Now()
	snap := r.local.Scan(ctx)
	online := r.online.Fetch(ctx)

	var kernel string
	if r.kernel != nil {
		kernel = r.kernel.KernelRelease(ctx)
	}

	out := Merge(snap, online, kernel, r.maxVersions)
	log.Info("driver versions resolved",
		"local", len(snap.Versions),
		"online", len(online),
		"fallback", snap.Fallback,
		"resolved", len(out),
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return out
}

// MatchLocal finds the local version an online version refers to: an exact
// match first, otherwise the first local version that extends or is extended
// by online at a "." boundary ("565" ~ "565.57.01").
func MatchLocal(online string, local []string) (string, bool) {
	if slices.Contains(local, online) {
		return online, true
	}
	for _, lv := range local {
		if strings.HasPrefix(lv, online+".") || strings.HasPrefix(online, lv+".") {
			return lv, true
		}
	}
	return "", false
}

// changelogFor returns the notes for v: the entry for v itself, else the first
// entry whose version is a prefix of v or has v as a prefix. The prefix rule
// can pick a sibling point release of the same branch.
func changelogFor(v string, entries []repo.Changelog) (string, bool) {
	for _, e := range entries {
		if e.Version == v {
			return e.Notes, true
		}
	}
	for _, e := range entries {
		if strings.HasPrefix(v, e.Version) || strings.HasPrefix(e.Version, v) {
			return e.Notes, true
		}
	}
	return "", false
}

// Merge combines a repository snapshot with online releases. The result is
// unique by version, sorted newest first, headed by the only IsLatest entry
// and at most limit long. A fallback snapshot takes part only when nothing was
// found online.
func Merge(snap repo.Snapshot, online []remote.Release, kernelRelease string, limit int) []DriverVersion {
	local := snap.Versions
	if snap.Fallback && len(online) > 0 {
		local = nil
	}

	var (
		merged  []DriverVersion
		seen    = make(map[string]bool)
		matched = make(map[string]bool)
	)

	for _, rel := range online {
		if seen[rel.Version] {
			continue
		}
		seen[rel.Version] = true

		dv := DriverVersion{
			Version:      rel.Version,
			Source:       Official,
			ReleaseNotes: rel.Notes,
		}
		if lv, ok := MatchLocal(rel.Version, local); ok {
			matched[lv] = true
			dv.Source = Merged
			dv.Installable = true
			dv.Build = snap.Builds[lv]
			if notes, ok := changelogFor(rel.Version, snap.Changelog); ok {
				dv.ReleaseNotes = notes
			}
		}
		merged = append(merged, dv)
	}

	for _, lv := range local {
		if seen[lv] || matched[lv] {
			continue
		}
		seen[lv] = true

		notes := LocalOnlyNotes
		for _, e := range snap.Changelog {
			if e.Version == lv {
				notes = e.Notes
				break
			}
		}
		merged = append(merged, DriverVersion{
			Version:      lv,
			Source:       Repo,
			ReleaseNotes: notes,
			Installable:  true,
			Build:        snap.Builds[lv],
		})
	}

	slices.SortStableFunc(merged, func(a, b DriverVersion) int {
		return version.Compare(b.Version, a.Version)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	for i := range merged {
		merged[i].Compatible = compat.IsCompatible(merged[i].Version, kernelRelease)
	}
	if len(merged) > 0 {
		merged[0].IsLatest = true
	}
	return merged
}
