//go:build !windows

package approval

import (
	"os"

	"golang.org/x/sys/unix"
)

// executableCandidates returns the paths to try for a PATH search hit.
// Unix has no executable-extension convention, so the bare path is the
// only candidate.
func executableCandidates(path string, _ func(string) string) []string {
	return []string{path}
}

// isExecutableFile reports whether path is a regular file executable by the
// current user.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
