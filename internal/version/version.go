package version

import "fmt"

var (
	// Version is the semantic version of vaultrisk, set with -ldflags.
	Version = "dev"
	// Commit is the git commit hash, set with -ldflags.
	Commit = "unknown"
	// BuildDate is the build timestamp, set with -ldflags.
	BuildDate = "unknown"
)

// String renders the build information on one line per field.
func String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}
