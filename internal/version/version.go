package version

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the service release version, overridable at build time:
//
//	go build -ldflags "-X github.com/hrygo/stylebot/internal/version.Version=0.3.0"
var Version = "0.3.0"

// GitCommit is the git commit hash at build time.
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
var BuildTime = "unknown"

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsVersionGreaterThan returns true if version is greater than target.
func IsVersionGreaterThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > 0
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) >= 0
}

// Sort orders versions ascending in place.
func Sort(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return semver.Compare(canonical(versions[i]), canonical(versions[j])) < 0
	})
}

// String returns the version string with the short commit hash when known.
func String() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return Version
	}
	commit := GitCommit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return fmt.Sprintf("%s-%s", Version, commit)
}
