// Package buildinfo holds version metadata stamped at compile time via
// -ldflags "-X github.com/creatiox/udots/internal/buildinfo.Version=...".
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// BuildInfo returns build and runtime details as a map for the version
// command and the startup log line. When ldflags were not applied, the
// VCS stamp embedded by the go tool fills in the commit.
func BuildInfo() map[string]string {
	commit := GitCommit
	if commit == "unknown" {
		if rev, ok := vcsRevision(); ok {
			commit = rev
		}
	}
	return map[string]string{
		"version":    Version,
		"git_commit": commit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

func vcsRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12], true
			}
			return s.Value, true
		}
	}
	return "", false
}

// Uptime returns the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("udots %s (%s@%s) built %s %s/%s",
		Version, BuildInfo()["git_commit"], GitBranch, BuildTime, runtime.GOOS, runtime.GOARCH)
}
