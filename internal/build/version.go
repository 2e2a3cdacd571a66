// Package build contains versioning information for tidal.
package build

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the semantic version of this tidal release.
const Version = "0.1.0"

// FullVersion returns the maximally full version and build information for
// the currently running tidal executable.
func FullVersion() string {
	goVersionArch := fmt.Sprintf("%s, %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Sprintf("v%s (%s)", Version, goVersionArch)
	}

	var commit string
	var dirty bool
	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
			if len(commit) > 10 {
				commit = commit[:10]
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return fmt.Sprintf("v%s (%s)", Version, goVersionArch)
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("v%s (commit/%s, %s)", Version, commit, goVersionArch)
}
