// Package version carries the release version of the bril toolkit and the
// build information baked in by the Go toolchain.
package version

import (
	"fmt"
	"runtime/debug"
)

const (
	Major = 0          // Major version component of the current release
	Minor = 4          // Minor version component of the current release
	Patch = 0          // Patch version component of the current release
	Meta  = "unstable" // Version metadata to append to the version string
)

// Semantic holds the textual version string for major.minor.patch.
var Semantic = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)

// WithMeta holds the textual version string including the metadata.
var WithMeta = func() string {
	v := Semantic
	if Meta != "" {
		v += "-" + Meta
	}
	return v
}()

// WithCommit appends the short VCS commit to the version string when the
// binary was built from a checkout with module build info available.
func WithCommit() string {
	vsn := WithMeta
	if commit, _ := VCS(); len(commit) >= 8 {
		vsn += "-" + commit[:8]
	}
	return vsn
}

// VCS returns the commit hash and dirty flag recorded in the build info.
func VCS() (commit string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return commit, dirty
}

// GoVersion returns the toolchain version the binary was built with.
func GoVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.GoVersion != "" {
		return info.GoVersion
	}
	return ""
}
