//go:build !unix

package probe

func unameRelease() string {
	return ""
}
