package version

import (
	"fmt"
	"runtime"
)

// Build information, injected via ldflags at build time:
//
//	-X github.com/tsntt/footballdash/internal/platform/version.Version=v1.2.3
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// UserAgent is sent with every request to the football backend.
func UserAgent() string {
	return fmt.Sprintf("footballdash/%s (%s)", Version, Commit)
}
