// Package version carries build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"time"
)

var (
	// Version is the release tag.
	Version = "dev"
	// BuildTime is the RFC 3339 build timestamp.
	BuildTime = "unknown"
	// CommitID is the git commit hash.
	CommitID = "unknown"
)

func formatBuildTime() string {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// ClientInfo returns structured version information
func ClientInfo() map[string]string {
	return map[string]string{
		"Version":       Version,
		"GoVersion":     runtime.Version(),
		"GitCommit":     CommitID,
		"BuildTime":     BuildTime,
		"FormattedTime": formatBuildTime(),
		"OS":            runtime.GOOS,
		"Arch":          runtime.GOARCH,
	}
}

// String returns a one-line version summary.
func String() string {
	commit := CommitID
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("recordscreen %s (%s, %s/%s)", Version, commit, runtime.GOOS, runtime.GOARCH)
}
