package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current version of capacityeval
	Version = "0.1.0"

	// GitCommit is the git commit hash, injected at build time
	GitCommit string

	// BuildTime is the build timestamp, injected at build time
	BuildTime string

	// GoVersion is the Go runtime version, injected at build time
	GoVersion string
)

// Info is the machine readable build description
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the build description, falling back to the running Go version
func Get() Info {
	info := Info{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime, GoVersion: GoVersion}
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}
	return info
}

// String returns the full version string
func String() string {
	if GitCommit != "" && BuildTime != "" {
		commit := GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		return fmt.Sprintf("%s (commit: %s, built: %s, %s)",
			Version, commit, BuildTime, GoVersion)
	}
	return Version
}
