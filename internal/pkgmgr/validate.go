package pkgmgr

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidVersion is returned for a pinned version that is not strictly
// digits separated by dots.
var ErrInvalidVersion = errors.New("invalid driver version")

var pinnedVersionRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// ValidateVersion rejects anything but digits and dots. Pinned versions are
// interpolated into commands run as root, so this is the only gate between a
// user-supplied string and the privileged helper.
func ValidateVersion(v string) error {
	if !pinnedVersionRe.MatchString(v) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return nil
}

func checkPinned(pinned string) error {
	if pinned == "" {
		return nil
	}
	return ValidateVersion(pinned)
}
