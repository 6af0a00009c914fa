package version

import "fmt"

// Set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns the human-readable version string.
func String() string {
	if Commit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
