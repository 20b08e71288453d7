package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/ro-control/ro-control/internal/httputil"
)

const nvidiaPage = `<html><body>
<table id="tblDriverList">
<tr><td><a href="/Download/driverResults.aspx/233004/en-us/?ver=565.57.01">Linux x64 Display Driver</a></td>
<td class="gridItem">565.57.01</td><td>October 22, 2024</td></tr>
<tr><td><a href="/Download/driverResults.aspx/232999/">Linux x64 Display Driver</a></td>
<td class="gridItem">560.35.03</td></tr>
<tr><td class="gridItem" data-ver="550.127.05">550.127.05</td></tr>
<tr><td class="gridItem">390.157</td></tr>
</table>
<script>var latest = "565.57.01";</script>
</body></html>`

const bodhiJSON = `{"updates":[
 {"title":"akmod-nvidia-565.57.01-1.fc41","notes":"Update to 565.57.01"},
 {"title":"akmod-nvidia-550.120-1.fc40","notes":null},
 {"title":"kernel-6.11.4-301.fc41","notes":"not a driver"},
 {"title":"akmod-nvidia-550.120-2.fc40","notes":"Duplicate"}
]}`

type sources struct {
	nvidia, bodhi         string
	nvidiaCode, bodhiCode int
	nvidiaHits, bodhiHits atomic.Int32
}

func (s *sources) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/nvidia", func(w http.ResponseWriter, r *http.Request) {
		s.nvidiaHits.Add(1)
		if s.nvidiaCode != 0 {
			w.WriteHeader(s.nvidiaCode)
			return
		}
		w.Write([]byte(s.nvidia))
	})
	mux.HandleFunc("/bodhi", func(w http.ResponseWriter, r *http.Request) {
		s.bodhiHits.Add(1)
		if s.bodhiCode != 0 {
			w.WriteHeader(s.bodhiCode)
			return
		}
		w.Write([]byte(s.bodhi))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(srv *httptest.Server) *Fetcher {
	client := httputil.NewClient(httputil.WithRetry(httputil.NoRetry()))
	return NewFetcher(client, WithNVIDIAURL(srv.URL+"/nvidia"), WithBodhiURL(srv.URL+"/bodhi"))
}

func TestFetchOfficialOnly(t *testing.T) {
	s := &sources{nvidia: nvidiaPage, bodhi: bodhiJSON}
	got := newTestFetcher(s.server(t)).Fetch(context.Background())

	want := []string{"565.57.01", "560.35.03", "550.127.05"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want versions %v", got, want)
	}
	for i, r := range got {
		if r.Version != want[i] || r.Notes != "NVIDIA Official" {
			t.Fatalf("entry %d = %+v", i, r)
		}
	}
	if s.bodhiHits.Load() != 0 {
		t.Fatal("Bodhi must not be queried when the NVIDIA page yields three versions")
	}
}

func TestFetchFallsBackToBodhi(t *testing.T) {
	s := &sources{
		nvidia: `<td class="gridItem">565.57.01</td>`,
		bodhi:  bodhiJSON,
	}
	got := newTestFetcher(s.server(t)).Fetch(context.Background())

	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0] != (Release{Version: "565.57.01", Notes: "NVIDIA Official"}) {
		t.Fatalf("official entry must win over Bodhi: %+v", got[0])
	}
	if got[1] != (Release{Version: "550.120", Notes: "Fedora RPM Fusion stable update"}) {
		t.Fatalf("unexpected Bodhi entry %+v", got[1])
	}
}

func TestFetchAllSourcesDown(t *testing.T) {
	s := &sources{nvidiaCode: http.StatusServiceUnavailable, bodhiCode: http.StatusInternalServerError}
	got := newTestFetcher(s.server(t)).Fetch(context.Background())
	if len(got) != 0 {
		t.Fatalf("expected no results, got %+v", got)
	}
	if s.nvidiaHits.Load() != 1 || s.bodhiHits.Load() != 1 {
		t.Fatalf("hits nvidia=%d bodhi=%d", s.nvidiaHits.Load(), s.bodhiHits.Load())
	}
}

func TestFetchMalformedBodhi(t *testing.T) {
	s := &sources{nvidia: "<html></html>", bodhi: "{not json"}
	if got := newTestFetcher(s.server(t)).Fetch(context.Background()); len(got) != 0 {
		t.Fatalf("expected no results, got %+v", got)
	}
}

func TestParseOfficialDropsLegacy(t *testing.T) {
	got := parseOfficial([]byte(`<p>390.157 470.256.02 418.113</p><a title="535.216.01"></a>`))
	if len(got) != 2 || got[0].Version != "470.256.02" || got[1].Version != "535.216.01" {
		t.Fatalf("got %+v", got)
	}
}

func TestBodhiNotesTruncated(t *testing.T) {
	long := strings.Repeat("ü", 130)
	body := `{"updates":[{"title":"akmod-nvidia-565.57.01-1.fc41","notes":"` + long + `"}]}`
	got, err := parseBodhi([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %+v", got)
	}
	notes := got[0].Notes
	if !strings.HasSuffix(notes, "...") {
		t.Fatalf("missing ellipsis: %q", notes)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(notes, "...")); n != 120 {
		t.Fatalf("kept %d runes, want 120", n)
	}
}

func TestTruncateRunes(t *testing.T) {
	exact := strings.Repeat("a", 120)
	if got := truncateRunes(exact, 120); got != exact {
		t.Fatal("string of exactly n runes must be unchanged")
	}
	if got := truncateRunes("short", 120); got != "short" {
		t.Fatalf("got %q", got)
	}
}
