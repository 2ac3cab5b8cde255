// Package version contains build version information set via ldflags:
//
//	-X github.com/datapulse/orchestrator/internal/version.Version=1.2.3
package version

import "fmt"

// Version is the released orchestrator version.
var Version = "0.1.0-dev"

// GitCommit is the git commit hash.
var GitCommit = "unknown"

// BuildDate is the build date.
var BuildDate = "unknown"

// Info returns the build information as a map for JSON responses.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
	}
}

// String returns a one-line description used by the version command.
func String() string {
	return fmt.Sprintf("orchestrator %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
