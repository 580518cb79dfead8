// Package version carries build metadata set through -ldflags, e.g.
//
//	-X github.com/accountdesk/accountdesk/pkg/version.Version=v1.2.0
package version

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildDate is RFC3339 when set by the release build.
	BuildDate = "unknown"

	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"gitCommit"`
	BuildDate string    `json:"buildDate"`
	GoVersion string    `json:"goVersion"`
	Platform  string    `json:"platform"`
	BuildTime time.Time `json:"buildTime,omitempty"`
}

func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t
	}
	return info
}

// String is the one-line form printed by `accountdesk version`.
func (b BuildInfo) String() string {
	return fmt.Sprintf("accountdesk %s (commit %s, built %s, %s %s)", b.Version, b.GitCommit, b.BuildDate, b.GoVersion, b.Platform)
}

// LogFields returns key/value pairs for the startup log line.
func (b BuildInfo) LogFields() []interface{} {
	return []interface{}{"version", b.Version, "commit", b.GitCommit, "buildDate", b.BuildDate, "go", b.GoVersion}
}

// UserAgent identifies this build to outside services such as the Kafka brokers.
func UserAgent() string {
	return "accountdesk/" + Version
}
