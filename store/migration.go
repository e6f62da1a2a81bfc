package store

import (
	"github.com/hrygo/stylebot/internal/version"
)

// Migration is a schema change tagged with the release that introduced it.
type Migration struct {
	Version    string
	Statements []string
}

// PendingMigrations returns the migrations newer than current, oldest first.
// An empty current means a fresh database.
func PendingMigrations(all []Migration, current string) []Migration {
	byVersion := make(map[string]Migration, len(all))
	versions := make([]string, 0, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
		versions = append(versions, m.Version)
	}
	version.Sort(versions)

	pending := []Migration{}
	for _, v := range versions {
		if current == "" || !version.IsVersionGreaterOrEqualThan(current, v) {
			pending = append(pending, byVersion[v])
		}
	}
	return pending
}

// LatestVersion returns the highest migration version, or "" for none.
func LatestVersion(all []Migration) string {
	latest := ""
	for _, m := range all {
		if latest == "" || version.IsVersionGreaterThan(m.Version, latest) {
			latest = m.Version
		}
	}
	return latest
}
