// Package version implements the dotted numeric version ordering used to rank
// driver releases. It never rejects input: anything that is not a non-negative
// integer component is ignored.
package version

import (
	"slices"
	"strconv"
	"strings"
)

// Parse splits s on "." and keeps the components that parse as uint32.
// "565.57.01" yields [565 57 1]; "1.0.0-beta" yields [1 0]; "abc" yields an
// empty slice.
func Parse(s string) []uint32 {
	parts := strings.Split(s, ".")
	out := make([]uint32, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// Compare returns 1 when a > b, -1 when a < b and 0 when they are equal.
// Missing trailing components count as 0, so "1.0" equals "1.0.0".
func Compare(a, b string) int {
	return compareParts(Parse(a), Parse(b))
}

func compareParts(pa, pb []uint32) int {
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y uint32
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

// SortDescending sorts versions in place, newest first. Equal versions keep
// their relative order.
func SortDescending(versions []string) {
	slices.SortStableFunc(versions, func(a, b string) int {
		return Compare(b, a)
	})
}

// Major returns the first numeric component of v, or 0.
func Major(v string) uint32 {
	first, _, _ := strings.Cut(v, ".")
	n, err := strconv.ParseUint(first, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
