// Package version carries build metadata stamped in at link time.
package version

import "fmt"

var (
	// Version is the semantic version, overridden by -ldflags at release.
	Version = "0.3.0"
	// Commit is the short git SHA of the build.
	Commit = "dev"
	// Date is the build timestamp.
	Date = "unknown"
)

func Full() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit, Date)
}

func Short() string {
	return Version
}
