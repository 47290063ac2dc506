// Package version reports the amalgam release
package version

import (
	"github.com/maloquacious/semver"
)

var (
	version = semver.Version{
		Major: 0,
		Minor: 3,
		Patch: 0,
		Build: semver.Commit(),
	}
)

func Version() semver.Version {
	return version
}

// String renders the version for stamps and the version command
func String() string {
	return version.String()
}
