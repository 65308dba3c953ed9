package approval

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveExecutable resolves an executable token to an absolute path, or ""
// if no candidate exists, is a regular file, and is executable.
//
// A token containing a path separator is tested directly (absolute) or
// relative to the working directory. A bare name is searched for in each
// PATH directory in order, trying platform executable extensions where the
// platform has them. A leading ~ expands to the caller's home directory.
//
// Resolution runs from scratch on every call. PATH and filesystem state
// change between calls, and a stale resolution is a security hazard, so
// nothing is cached.
func ResolveExecutable(name string, opts CheckOptions) string {
	if name == "" {
		return ""
	}

	name = expandHome(name, opts)

	if isPathwise(name) {
		candidate := name
		if !filepath.IsAbs(candidate) {
			wd := opts.WorkDir
			if wd == "" {
				wd, _ = os.Getwd()
			}
			if wd == "" {
				return ""
			}
			candidate = filepath.Join(wd, candidate)
		}
		candidate = filepath.Clean(candidate)
		if isExecutableFile(candidate) {
			return candidate
		}
		return ""
	}

	// Bare name: walk PATH in order, first hit wins.
	envGet := envLookup(opts)
	for _, dir := range filepath.SplitList(envGet("PATH")) {
		if dir == "" {
			continue
		}
		for _, candidate := range executableCandidates(filepath.Join(dir, name), envGet) {
			if isExecutableFile(candidate) {
				return candidate
			}
		}
	}
	return ""
}

// isPathwise reports whether an executable token was written as a path
// rather than a bare name.
func isPathwise(name string) bool {
	if strings.ContainsRune(name, '/') {
		return true
	}
	return os.PathSeparator == '\\' && strings.ContainsRune(name, '\\')
}

// envLookup returns a getter over the per-call environment snapshot,
// falling back to the process environment when none was supplied.
func envLookup(opts CheckOptions) func(string) string {
	if opts.Env == nil {
		return os.Getenv
	}
	return func(key string) string { return opts.Env[key] }
}

// expandHome expands a leading ~ to the caller's home directory.
func expandHome(name string, opts CheckOptions) string {
	if name != "~" && !strings.HasPrefix(name, "~/") {
		return name
	}
	home := envLookup(opts)("HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}
	if home == "" {
		return name
	}
	if name == "~" {
		return home
	}
	return filepath.Join(home, name[2:])
}
