//go:build windows

package approval

import (
	"os"
	"strings"
)

// defaultPathExt mirrors the conventional Windows executable extensions used
// when PATHEXT is unset.
const defaultPathExt = ".COM;.EXE;.BAT;.CMD"

// executableCandidates returns the paths to try for a PATH search hit: the
// bare name first, then each PATHEXT extension in order.
func executableCandidates(path string, env func(string) string) []string {
	exts := env("PATHEXT")
	if exts == "" {
		exts = defaultPathExt
	}
	candidates := []string{path}
	for _, ext := range strings.Split(exts, ";") {
		ext = strings.TrimSpace(ext)
		if ext == "" || !strings.HasPrefix(ext, ".") {
			continue
		}
		candidates = append(candidates, path+ext)
	}
	return candidates
}

// isExecutableFile reports whether path is a regular file. Windows has no
// POSIX executable bit, so the bit check is skipped.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
