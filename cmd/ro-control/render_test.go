package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ro-control/ro-control/internal/monitor"
	"github.com/ro-control/ro-control/internal/probe"
	"github.com/ro-control/ro-control/internal/resolver"
)

func testVersions() []resolver.DriverVersion {
	return []resolver.DriverVersion{
		{Version: "565.57", Source: resolver.Merged, ReleaseNotes: "NVIDIA Official", IsLatest: true, Installable: true, Compatible: true, Build: "3:565.57.01-1.fc41"},
		{Version: "550", Source: resolver.Repo, ReleaseNotes: resolver.LocalOnlyNotes, Installable: true, Compatible: true},
	}
}

func TestRenderVersionsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := renderVersions(&buf, "json", testVersions()); err != nil {
		t.Fatalf("renderVersions: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d entries, want 2", len(decoded))
	}
	if decoded[0]["source"] != "merged" || decoded[1]["source"] != "repo" {
		t.Fatalf("sources = %v, %v", decoded[0]["source"], decoded[1]["source"])
	}
	if _, ok := decoded[1]["build"]; ok {
		t.Fatal("empty build should be omitted")
	}
}

func TestRenderVersionsYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := renderVersions(&buf, "YAML", testVersions()); err != nil {
		t.Fatalf("renderVersions: %v", err)
	}
	var decoded []resolver.DriverVersion
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if len(decoded) != 2 || decoded[0].Source != resolver.Merged || !decoded[0].IsLatest {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestRenderVersionsEmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := renderVersions(&buf, "json", nil); err != nil {
		t.Fatalf("renderVersions: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Fatalf("output = %q, want []", got)
	}
}

func TestRenderVersionsText(t *testing.T) {
	var buf bytes.Buffer
	if err := renderVersions(&buf, "text", testVersions()); err != nil {
		t.Fatalf("renderVersions: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"VERSION", "565.57 (latest)", "merged", "550", "repo"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteStructuredUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	done, err := writeStructured(&buf, "xml", struct{}{})
	if !done || err == nil {
		t.Fatalf("writeStructured(xml) = %v, %v; want done with error", done, err)
	}
}

func TestRenderDetectUnsupportedManager(t *testing.T) {
	var buf bytes.Buffer
	report := detectReport{System: probe.SystemInfo{Kernel: "6.8.0", GPU: probe.GPUInfo{Vendor: "AMD"}}}
	if err := renderDetect(&buf, "text", report); err != nil {
		t.Fatalf("renderDetect: %v", err)
	}
	if !strings.Contains(buf.String(), "unsupported") || !strings.Contains(buf.String(), "6.8.0") {
		t.Fatalf("output:\n%s", buf.String())
	}
}

func TestRenderStatsWithoutGPU(t *testing.T) {
	var buf bytes.Buffer
	stats := monitor.Stats{System: monitor.SystemStats{CPULoad: 12, RAMUsed: 2048, RAMTotal: 8192, RAMPercent: 25}}
	if err := renderStats(&buf, "", stats); err != nil {
		t.Fatalf("renderStats: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "nvidia-smi unavailable") || !strings.Contains(out, "2048/8192") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yes", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.input), &out, "Proceed?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short  note", 20); got != "short note" {
		t.Fatalf("truncate = %q", got)
	}
	got := truncate(strings.Repeat("é", 30), 10)
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
}
