// Package version carries build metadata stamped in through ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the application version, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version    string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit  string `json:"git_commit" example:"3f2a9c1" doc:"Git commit hash"`
	BuildDate  string `json:"build_date" example:"2026-03-14T09:12:00Z" doc:"Build timestamp"`
	GoVersion  string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform   string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
	SDKVersion string `json:"sdk_version,omitempty" example:"1.12.6" doc:"Camera SDK version"`
	Backend    string `json:"backend,omitempty" example:"sdk" doc:"Camera backend, sdk or sim"`
}

// Get returns version and build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// WithSDK returns a copy of i describing the camera backend in use.
func (i Info) WithSDK(backend, sdkVersion string) Info {
	i.Backend = backend
	i.SDKVersion = sdkVersion
	return i
}

// String formats i for the version command.
func (i Info) String() string {
	s := fmt.Sprintf("svbcapture %s (commit %s, built %s, %s %s)", i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
	if i.SDKVersion != "" {
		s += fmt.Sprintf("\n%s backend, SDK %s", i.Backend, i.SDKVersion)
	}
	return s
}
