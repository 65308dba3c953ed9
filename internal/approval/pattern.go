package approval

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/unicode/norm"
)

// PathPattern is a compiled allowlist pattern matched against resolved
// executable paths. Matching is case-insensitive and separator-aware:
// * matches within one path component, ** crosses separators, ? matches a
// single character, everything else is literal.
type PathPattern struct {
	raw      string
	pathLike bool
	compiled glob.Glob
}

// IsPathShaped reports whether an allowlist pattern references a filesystem
// path: it contains a separator or starts with ~. Bare-name patterns are
// never eligible to match — otherwise an entry like "foo" would silently
// broaden to whatever foo happens to resolve to anywhere in PATH.
func IsPathShaped(pattern string) bool {
	return strings.ContainsAny(pattern, `/\`) || strings.HasPrefix(pattern, "~")
}

// CompilePattern compiles an allowlist glob. A leading ~ is expanded to the
// current home directory before compiling. Compiling a non-path-shaped
// pattern succeeds but yields a matcher that matches nothing.
func CompilePattern(pattern string) (*PathPattern, error) {
	p := &PathPattern{raw: pattern, pathLike: IsPathShaped(pattern)}
	if !p.pathLike {
		return p, nil
	}
	expanded := expandHome(pattern, CheckOptions{})
	g, err := glob.Compile(normalizeForMatch(expanded), '/')
	if err != nil {
		return nil, err
	}
	p.compiled = g
	return p, nil
}

// Match reports whether the pattern matches a resolved absolute path.
// An empty path never matches.
func (p *PathPattern) Match(path string) bool {
	if p.compiled == nil || path == "" {
		return false
	}
	return p.compiled.Match(normalizeForMatch(path))
}

// normalizeForMatch normalizes a pattern or candidate path for comparison:
// forward slashes, Windows verbatim prefix stripped, NFKC-normalized,
// lowercased. Both sides of every match go through the same pipeline.
func normalizeForMatch(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "//?/")
	p = norm.NFKC.String(p)
	return strings.ToLower(p)
}
