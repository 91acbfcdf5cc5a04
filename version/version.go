// Package version reports the daemon's semantic version, grounded on
// lnd.go's startup line ("Version %s", version()) without pulling in its
// git-describe build tooling.
package version

import "fmt"

const (
	major = 0
	minor = 1
	patch = 0
)

// String returns the dotted semantic version, e.g. "0.1.0".
func String() string {
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}
