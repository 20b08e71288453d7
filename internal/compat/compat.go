// Package compat holds the kernel requirements of NVIDIA driver branches.
package compat

import (
	"strconv"
	"strings"

	"github.com/ro-control/ro-control/internal/logging"
	"github.com/ro-control/ro-control/internal/version"
)

var log = logging.L("compat")

// Requirement is the minimum kernel for drivers at or above MinDriverMajor.
type Requirement struct {
	MinDriverMajor uint32
	Kernel         [2]int
}

// Requirements lists rules from the newest branch down; the first whose
// MinDriverMajor applies decides.
var Requirements = []Requirement{
	{MinDriverMajor: 545, Kernel: [2]int{6, 0}},
	{MinDriverMajor: 525, Kernel: [2]int{5, 10}},
}

// IsCompatible reports whether driverVersion can be built for kernelRelease.
// An unreadable kernel release is treated as compatible.
func IsCompatible(driverVersion, kernelRelease string) bool {
	kernel, ok := kernelMajorMinor(kernelRelease)
	if !ok {
		return true
	}
	major := version.Major(driverVersion)
	for _, req := range Requirements {
		if major < req.MinDriverMajor {
			continue
		}
		if kernel[0] < req.Kernel[0] || (kernel[0] == req.Kernel[0] && kernel[1] < req.Kernel[1]) {
			log.Warn("driver requires a newer kernel",
				logging.KeyVersion, driverVersion,
				"kernel", kernelRelease,
				"required", strconv.Itoa(req.Kernel[0])+"."+strconv.Itoa(req.Kernel[1]))
			return false
		}
		return true
	}
	return true
}

// kernelMajorMinor reads the leading "X.Y" of a release such as
// "6.11.4-301.fc41.x86_64".
func kernelMajorMinor(release string) ([2]int, bool) {
	parts := strings.SplitN(strings.TrimSpace(release), ".", 3)
	if len(parts) < 2 {
		return [2]int{}, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return [2]int{}, false
	}
	minor, err := strconv.Atoi(leadingDigits(parts[1]))
	if err != nil {
		return [2]int{}, false
	}
	return [2]int{major, minor}, true
}

func leadingDigits(s string) string {
	for i, r := range s {
		if r < '0' || r > '9' {
			return s[:i]
		}
	}
	return s
}
