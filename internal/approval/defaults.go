package approval

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultSafeBins are conventional read-only and text-processing binaries
// considered low-risk when invoked without path-shaped arguments.
var defaultSafeBins = []string{
	"awk",
	"cat",
	"cut",
	"echo",
	"grep",
	"head",
	"jq",
	"ls",
	"pwd",
	"sed",
	"sort",
	"tail",
	"tr",
	"uniq",
	"wc",
	"which",
}

// DefaultPolicy returns the built-in policy: deny everything, prompt only
// for what would otherwise be refused.
func DefaultPolicy() Policy {
	return Policy{
		Security:        SecurityDeny,
		Ask:             AskOnMiss,
		AskFallback:     SecurityDeny,
		AutoAllowSkills: false,
	}
}

// DefaultConfig returns the built-in configuration used when the backing
// store is missing or unreadable.
func DefaultConfig() *Config {
	bins := make([]string, len(defaultSafeBins))
	copy(bins, defaultSafeBins)
	return &Config{
		Policy:    DefaultPolicy(),
		Allowlist: []AllowlistEntry{},
		SafeBins:  bins,
	}
}

// DefaultStorePath returns the default backing store location
// (~/.cmdgate/approvals.json).
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "approvals.json"
	}
	return filepath.Join(home, ".cmdgate", "approvals.json")
}

// normalizeConfig fills absent or invalid fields with defaults so a
// partially-written or hand-edited store never leaves the engine in an
// undefined state.
func normalizeConfig(cfg *Config) {
	if !cfg.Policy.Security.Valid() {
		cfg.Policy.Security = SecurityDeny
	}
	if !cfg.Policy.Ask.Valid() {
		cfg.Policy.Ask = AskOnMiss
	}
	if !cfg.Policy.AskFallback.Valid() {
		cfg.Policy.AskFallback = SecurityDeny
	}
	if cfg.Allowlist == nil {
		cfg.Allowlist = []AllowlistEntry{}
	}
	if cfg.SafeBins == nil {
		cfg.SafeBins = DefaultConfig().SafeBins
	}
	cfg.SafeBins = normalizeSafeBins(cfg.SafeBins)
}

// normalizeSafeBins lowercases, deduplicates, and sorts a safe-bin list.
func normalizeSafeBins(bins []string) []string {
	seen := make(map[string]bool, len(bins))
	out := make([]string, 0, len(bins))
	for _, b := range bins {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}
