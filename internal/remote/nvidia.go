package remote

import (
	"bytes"
	"context"
	"io"

	"golang.org/x/net/html"

	"github.com/ro-control/ro-control/internal/version"
)

const officialNotes = "NVIDIA Official"

func (f *Fetcher) official(ctx context.Context) []Release {
	body, err := f.client.Get(ctx, f.nvidiaURL)
	if err != nil {
		log.Warn("NVIDIA download page fetch failed", "error", err)
		return nil
	}
	return parseOfficial(body)
}

// parseOfficial scans text nodes and attribute values of the search result
// page for driver versions, in document order.
func parseOfficial(body []byte) []Release {
	var results []Release
	seen := make(map[string]bool)
	collect := func(s string) {
		for _, v := range releaseRe.FindAllString(s, -1) {
			if version.Major(v) < minMajor || seen[v] {
				continue
			}
			seen[v] = true
			results = append(results, Release{Version: v, Notes: officialNotes})
		}
	}

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				log.Debug("NVIDIA page tokenizer stopped early", "error", err)
			}
			return results
		case html.TextToken:
			collect(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			for _, attr := range tok.Attr {
				collect(attr.Val)
			}
		}
	}
}
