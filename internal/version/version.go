// Package version provides build version information for proxyman.
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns the version with commit and build time.
func String() string {
	return fmt.Sprintf("proxyman %s (%s) built %s", Version, GitCommit, BuildTime)
}

// Full appends the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s - Go %s %s/%s", String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Info contains structured version information.
type Info struct {
	Version   string `yaml:"version" json:"version"`
	GitCommit string `yaml:"git_commit" json:"git_commit"`
	BuildTime string `yaml:"build_time" json:"build_time"`
	GoVersion string `yaml:"go_version" json:"go_version"`
	Platform  string `yaml:"platform" json:"platform"`
}

// GetInfo returns structured version information.
func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
