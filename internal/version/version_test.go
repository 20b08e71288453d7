package version

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want []uint32
	}{
		{"1.2.3", []uint32{1, 2, 3}},
		{"565.57.01", []uint32{565, 57, 1}},
		{"565", []uint32{565}},
		{"01.02.03", []uint32{1, 2, 3}},
		{"1.0.0-beta", []uint32{1, 0}},
		{"1.2.3.4", []uint32{1, 2, 3, 4}},
		{"", []uint32{}},
		{"abc", []uint32{}},
		{"-1.5", []uint32{5}},
		{"99999999999.1", []uint32{1}},
		{"..", []uint32{}},
	}
	for _, tt := range tests {
		got := Parse(tt.in)
		if !slices.Equal(got, tt.want) {
			t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{"\x00", "٣.٤", "1..2", ".5.", "9.9.9.9.9.9.9.9.9", "🔥.1", "+3"}
	for _, in := range inputs {
		_ = Parse(in)
		_ = Compare(in, "1.0")
		_ = Major(in)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1", "1.0.0", 0},
		{"2.0.0", "1.0.0", 1},
		{"565.57.01", "550.120", 1},
		{"535.183", "550.120", -1},
		{"1.0.1", "1.0", 1},
		{"2", "1.9.9", 1},
		{"", "", 0},
		{"", "1.0", -1},
		{"abc", "0", 0},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Fatalf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSortDescending(t *testing.T) {
	versions := []string{"535.183", "565.57.01", "550.120"}
	SortDescending(versions)
	want := []string{"565.57.01", "550.120", "535.183"}
	if !slices.Equal(versions, want) {
		t.Fatalf("SortDescending = %v, want %v", versions, want)
	}
}

func TestSortDescendingIsStable(t *testing.T) {
	versions := []string{"550.0", "565", "550", "565.0.0"}
	SortDescending(versions)
	want := []string{"565", "565.0.0", "550.0", "550"}
	if !slices.Equal(versions, want) {
		t.Fatalf("SortDescending = %v, want %v", versions, want)
	}
}

func TestSortDescendingEdgeCases(t *testing.T) {
	var empty []string
	SortDescending(empty)
	if len(empty) != 0 {
		t.Fatal("expected empty slice to stay empty")
	}

	single := []string{"550.120"}
	SortDescending(single)
	if single[0] != "550.120" {
		t.Fatalf("unexpected single sort result %v", single)
	}

	withGarbage := []string{"", "470.1", "n/a"}
	SortDescending(withGarbage)
	if withGarbage[0] != "470.1" {
		t.Fatalf("expected numeric version first, got %v", withGarbage)
	}
}

func TestMajor(t *testing.T) {
	cases := map[string]uint32{
		"565.57.01": 565,
		"470":       470,
		"":          0,
		"beta.1":    0,
	}
	for in, want := range cases {
		if got := Major(in); got != want {
			t.Fatalf("Major(%q) = %d, want %d", in, got, want)
		}
	}
}
