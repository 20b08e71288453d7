package pkgmgr

import (
	"cmp"
	"regexp"
	"strings"

	debversion "github.com/knqyf263/go-deb-version"
	rpmversion "github.com/knqyf263/go-rpm-version"
)

// upstreamRe takes the upstream version out of a native build string,
// skipping an optional epoch: "3:565.57.01-1.fc41" -> "565.57.01".
var upstreamRe = regexp.MustCompile(`^(?:\d+:)?(\d+\.\d+(?:\.\d+)*)`)

// UpstreamVersion returns the dotted driver version of a native build string.
func UpstreamVersion(build string) (string, bool) {
	m := upstreamRe.FindStringSubmatch(strings.TrimSpace(build))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func newPackage(name, build string) (Package, bool) {
	v, ok := UpstreamVersion(build)
	if !ok {
		return Package{}, false
	}
	return Package{Name: name, Build: build, Version: v}, true
}

// parseNameVersionLines handles "name<sep>... version ..." listings where the
// first field is the package (optionally "repo/name" or "name/suite" or
// "name.arch") and the second is the version.
func parseNameVersionLines(output string, name func(field string) string, keep func(name string) bool) []Package {
	var pkgs []Package
	for _, line := range strings.Split(output, "\n") {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n := name(fields[0])
		if !keep(n) {
			continue
		}
		if pkg, ok := newPackage(n, fields[1]); ok {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs
}

// The version libraries return a signed difference; callers get -1, 0 or 1.
func compareRPM(a, b string) int {
	return cmp.Compare(rpmversion.NewVersion(a).Compare(rpmversion.NewVersion(b)), 0)
}

func compareDeb(a, b string) int {
	va, errA := debversion.NewVersion(a)
	vb, errB := debversion.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return cmp.Compare(va.Compare(vb), 0)
}
