// Package buildinfo exposes the version metadata stamped into the
// binary by the release build.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden with -ldflags at release time; the zero values identify a
// local development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info collects build and runtime facts for the version command and
// startup logging.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime reports how long the process has been running, truncated to
// whole seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String renders a one-line identity suitable for the first log line.
func String() string {
	return fmt.Sprintf("Prestabot %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
