// Package version carries the build-time identity of the esdmd daemon.
package version

import "strings"

var (
	// GitCommit and GitDescribe are filled in by the release build pipeline.
	GitCommit   string
	GitDescribe string

	// BuildDate is filled in by the compiler flags at release time.
	BuildDate string

	fullVersion                   = "0.1.0-HEAD"
	Version, VersionPrerelease, _ = strings.Cut(strings.TrimSpace(fullVersion), "-")
)

// String renders the human-readable daemon version, e.g. for the
// --version flag.
func String() string {
	v := Version
	if VersionPrerelease != "" {
		v += "-" + VersionPrerelease
	}
	if GitDescribe != "" {
		v = GitDescribe
	}
	return v
}
