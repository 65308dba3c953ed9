// Package approval decides whether a shell-style command may run unattended.
//
// It combines the conservative parser in internal/shellparse with a
// persisted security policy: a glob allowlist of trusted executable paths
// and a set of inherently low-risk binary names. The engine is the
// authorization gate between an autonomous agent and process execution;
// when in doubt it refuses.
package approval

import "time"

// CommandSegment is one indivisible pipeline stage of an analyzed command.
// Segments are immutable once constructed and built fresh on every analysis;
// nothing is cached across calls.
type CommandSegment struct {
	// Raw is the segment's source text, quotes included.
	Raw string `json:"raw"`
	// Argv is the segment's argument vector with quoting resolved.
	Argv []string `json:"argv"`
	// Executable is the first argv entry as written.
	Executable string `json:"executable"`
	// ResolvedPath is the absolute path the executable resolved to, or
	// empty if it was not found or not executable.
	ResolvedPath string `json:"resolved_path,omitempty"`
	// IsPath reports whether the executable was written with a path
	// separator, as opposed to a bare name requiring a PATH search.
	IsPath bool `json:"is_path"`
}

// CommandAnalysis is the parse result for one full command string.
type CommandAnalysis struct {
	// OK reports whether the command parsed. When false, Reason holds a
	// human-readable rejection and the remaining fields are empty.
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	// Segments is the flat list of all pipeline stages across all chains.
	Segments []CommandSegment `json:"segments,omitempty"`
	// Chains groups segments by chain link when the command contained a
	// chain operator (&&, ||, ;). Nil otherwise: callers treat absent
	// chains as one implicit chain equal to Segments. Segments always
	// equals the in-order concatenation of Chains.
	Chains [][]CommandSegment `json:"chains,omitempty"`
}

// AllowlistEntry is a persisted rule authorizing executables whose resolved
// path matches a glob pattern. Patterns that are not path-shaped (no
// separator, no leading ~) never match anything.
type AllowlistEntry struct {
	ID          string    `json:"id"`
	Pattern     string    `json:"pattern" validate:"required"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Usage telemetry, updated only by explicit RecordUse calls.
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	LastCommand string     `json:"last_command,omitempty"`
	LastPath    string     `json:"last_path,omitempty"`
	UseCount    int        `json:"use_count,omitempty"`
}

// AllowlistUpdate is a partial update of an AllowlistEntry. Nil fields are
// left unchanged.
type AllowlistUpdate struct {
	Pattern     *string `json:"pattern,omitempty"`
	Description *string `json:"description,omitempty"`
}

// SecurityMode is the coarse policy mode.
type SecurityMode string

// Security modes
const (
	// SecurityDeny refuses every command. The safe initial state.
	SecurityDeny SecurityMode = "deny"
	// SecurityAllowlist checks every segment against the allowlist and
	// safe-bin set.
	SecurityAllowlist SecurityMode = "allowlist"
	// SecurityFull allows every parseable command. An explicit escape hatch.
	SecurityFull SecurityMode = "full"
)

// Valid reports whether the mode is one of deny, allowlist, full.
func (m SecurityMode) Valid() bool {
	switch m {
	case SecurityDeny, SecurityAllowlist, SecurityFull:
		return true
	}
	return false
}

// AskMode governs when a human confirmation prompt is required, independent
// of the allow/deny outcome itself.
type AskMode string

// Ask modes
const (
	AskOff    AskMode = "off"
	AskOnMiss AskMode = "on-miss"
	AskAlways AskMode = "always"
)

// Valid reports whether the mode is one of off, on-miss, always.
func (m AskMode) Valid() bool {
	switch m {
	case AskOff, AskOnMiss, AskAlways:
		return true
	}
	return false
}

// Policy is the active approval policy.
type Policy struct {
	Security SecurityMode `json:"security" validate:"oneof=deny allowlist full"`
	Ask      AskMode      `json:"ask" validate:"oneof=off on-miss always"`
	// AskFallback is the security mode applied while a human decision is
	// still pending.
	AskFallback SecurityMode `json:"askFallback" validate:"oneof=deny allowlist full"`
	// AutoAllowSkills lets commands originating from trusted packaged
	// skills bypass the gate.
	AutoAllowSkills bool `json:"autoAllowSkills"`
}

// PolicyPatch is a field-by-field policy update. Nil fields are unchanged.
type PolicyPatch struct {
	Security        *SecurityMode `json:"security,omitempty"`
	Ask             *AskMode      `json:"ask,omitempty"`
	AskFallback     *SecurityMode `json:"askFallback,omitempty"`
	AutoAllowSkills *bool         `json:"autoAllowSkills,omitempty"`
}

// Config is the aggregate persisted state: policy, allowlist, and safe-bin
// set. Owned exclusively by the Engine and rewritten to disk after every
// mutation.
type Config struct {
	Policy    Policy           `json:"policy"`
	Allowlist []AllowlistEntry `json:"allowlist" validate:"dive"`
	// SafeBins holds lowercase binary names considered low-risk when
	// invoked without path-shaped arguments.
	SafeBins []string `json:"safeBins"`
}

// ApprovalResult is the outcome of one CheckApproval call.
type ApprovalResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	// MatchedEntries lists the allowlist entries that cleared segments.
	MatchedEntries []AllowlistEntry `json:"matched_entries,omitempty"`
	Analysis       CommandAnalysis  `json:"analysis"`
}

// CheckOptions carries per-call context for analysis and approval.
type CheckOptions struct {
	// WorkDir resolves relative executable paths. Defaults to the process
	// working directory.
	WorkDir string
	// Env overrides the process environment for PATH and HOME lookups.
	// Nil means use the process environment.
	Env map[string]string
	// FromTrustedSkill marks the command as originating from a trusted
	// packaged skill, eligible for the autoAllowSkills bypass.
	FromTrustedSkill bool
}
