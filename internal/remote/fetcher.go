// Package remote discovers driver releases published online: the NVIDIA
// driver search page first, then Fedora's Bodhi update feed when the page
// yields too little.
package remote

import (
	"context"
	"regexp"
	"slices"

	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/version"
)

var log = logging.L("remote")

const (
	DefaultNVIDIAURL = "https://www.nvidia.com/Download/processFind.aspx?psid=107&pfid=815&osid=12&lid=1&whql=&lang=en-us&ctk=0&qnfslb=00&dtcid=1"
	DefaultBodhiURL  = "https://bodhi.fedoraproject.org/updates/?search=akmod-nvidia&status=stable&rows_per_page=10&content_type=rpm"

	// minOfficialResults is the NVIDIA page yield below which Bodhi is consulted.
	minOfficialResults = 3
	// minMajor drops legacy branches and stray numbers on the page.
	minMajor = 470
)

var releaseRe = regexp.MustCompile(`\d{3}\.\d{2,3}(?:\.\d+)?`)

// Release is one published driver version.
type Release struct {
	Version string `json:"version" yaml:"version"`
	Notes   string `json:"notes" yaml:"notes"`
}

// Getter fetches a URL body. *httputil.Client implements it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Fetcher queries the online sources.
type Fetcher struct {
	client    Getter
	nvidiaURL string
	bodhiURL  string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithNVIDIAURL overrides DefaultNVIDIAURL.
func WithNVIDIAURL(u string) Option {
	return func(f *Fetcher) {
		if u != "" {
			f.nvidiaURL = u
		}
	}
}

// WithBodhiURL overrides DefaultBodhiURL.
func WithBodhiURL(u string) Option {
	return func(f *Fetcher) {
		if u != "" {
			f.bodhiURL = u
		}
	}
}

// NewFetcher creates a Fetcher using client for all requests.
func NewFetcher(client Getter, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    client,
		nvidiaURL: DefaultNVIDIAURL,
		bodhiURL:  DefaultBodhiURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the releases found online, newest first. Source failures are
// logged and contribute nothing; Fetch itself never fails.
func (f *Fetcher) Fetch(ctx context.Context) []Release {
	results := f.official(ctx)

	if len(results) < minOfficialResults {
		seen := make(map[string]bool, len(results))
		for _, r := range results {
			seen[r.Version] = true
		}
		for _, r := range f.bodhi(ctx) {
			if seen[r.Version] {
				continue
			}
			seen[r.Version] = true
			results = append(results, r)
		}
	}

	slices.SortStableFunc(results, func(a, b Release) int {
		return version.Compare(b.Version, a.Version)
	})
	log.Info("fetched online driver versions", "count", len(results))
	return results
}
