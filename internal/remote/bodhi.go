package remote

import (
	"context"
	"encoding/json"
)

const (
	bodhiDefaultNotes = "Fedora RPM Fusion stable update"
	maxNotesRunes     = 120
)

type bodhiResponse struct {
	Updates []struct {
		Title string  `json:"title"`
		Notes *string `json:"notes"`
	} `json:"updates"`
}

func (f *Fetcher) bodhi(ctx context.Context) []Release {
	body, err := f.client.Get(ctx, f.bodhiURL)
	if err != nil {
		log.Warn("Bodhi API fetch failed", "error", err)
		return nil
	}
	results, err := parseBodhi(body)
	if err != nil {
		log.Warn("Bodhi API response unreadable", "error", err)
		return nil
	}
	return results
}

func parseBodhi(body []byte) ([]Release, error) {
	var resp bodhiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var results []Release
	for _, u := range resp.Updates {
		v := releaseRe.FindString(u.Title)
		if v == "" {
			continue
		}
		notes := bodhiDefaultNotes
		if u.Notes != nil {
			notes = truncateRunes(*u.Notes, maxNotesRunes)
		}
		results = append(results, Release{Version: v, Notes: notes})
	}
	return results, nil
}

// truncateRunes cuts s to n runes and marks the cut with "...".
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
