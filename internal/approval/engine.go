package approval

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cmdgate/cmdgate/internal/shellparse"
)

var validate = validator.New()

// Engine owns the approval config and renders allow/deny decisions.
//
// The engine performs no internal locking. It is designed as an in-process
// gate consulted serially by the agent loop: AnalyzeCommand and
// CheckApproval are pure reads, safe to call concurrently against a stable
// config, but callers must serialize mutations themselves — concurrent
// mutations racing on the same backing file can lose an update.
type Engine struct {
	cfg   *Config
	store *Store
}

// Options configures engine construction.
type Options struct {
	// StorePath overrides the backing store location.
	StorePath string
	// Policy, when non-nil, overrides the persisted policy.
	Policy *Policy
}

// NewEngine loads the persisted config (falling back to defaults when the
// store is missing or corrupt) and applies any explicit overrides.
func NewEngine(opts Options) *Engine {
	store := NewStore(opts.StorePath)
	cfg := store.Load()
	if opts.Policy != nil {
		cfg.Policy = *opts.Policy
		normalizeConfig(cfg)
	}
	return &Engine{cfg: cfg, store: store}
}

var (
	globalEngine   *Engine
	globalEngineMu sync.RWMutex
)

// SetGlobalEngine sets the process-wide default engine. A convenience for
// hosts that want a singleton; explicit construction is the primary path.
func SetGlobalEngine(e *Engine) {
	globalEngineMu.Lock()
	defer globalEngineMu.Unlock()
	globalEngine = e
}

// GetGlobalEngine returns the process-wide default engine, or nil.
func GetGlobalEngine() *Engine {
	globalEngineMu.RLock()
	defer globalEngineMu.RUnlock()
	return globalEngine
}

// StorePath returns the path of the backing store.
func (e *Engine) StorePath() string { return e.store.Path() }

// Reload re-reads the backing store, discarding in-memory state.
func (e *Engine) Reload() {
	e.cfg = e.store.Load()
}

// AnalyzeCommand parses a command string into chains, pipeline segments, and
// argv vectors, resolving each segment's executable. The analysis is built
// fresh on every call; nothing is cached.
func (e *Engine) AnalyzeCommand(command string, opts CheckOptions) CommandAnalysis {
	if strings.TrimSpace(command) == "" {
		return CommandAnalysis{Reason: "empty command"}
	}

	links, err := shellparse.SplitChain(command)
	if err != nil {
		return CommandAnalysis{Reason: err.Error()}
	}

	// No chain operators: the whole command is one implicit link.
	if links == nil {
		segments, err := parseLink(command, opts)
		if err != nil {
			return CommandAnalysis{Reason: err.Error()}
		}
		return CommandAnalysis{OK: true, Segments: segments}
	}

	var all []CommandSegment
	chains := make([][]CommandSegment, 0, len(links))
	for _, link := range links {
		segments, err := parseLink(link, opts)
		if err != nil {
			return CommandAnalysis{Reason: err.Error()}
		}
		chains = append(chains, segments)
		all = append(all, segments...)
	}
	return CommandAnalysis{OK: true, Segments: all, Chains: chains}
}

// parseLink splits one chain link into pipeline segments and tokenizes and
// resolves each.
func parseLink(link string, opts CheckOptions) ([]CommandSegment, error) {
	stages, err := shellparse.SplitPipeline(link)
	if err != nil {
		return nil, err
	}

	segments := make([]CommandSegment, 0, len(stages))
	for _, raw := range stages {
		argv, err := shellparse.Tokenize(raw)
		if err != nil {
			return nil, err
		}
		seg := CommandSegment{
			Raw:        raw,
			Argv:       argv,
			Executable: argv[0],
			IsPath:     isPathwise(argv[0]),
		}
		seg.ResolvedPath = ResolveExecutable(argv[0], opts)
		segments = append(segments, seg)
	}
	return segments, nil
}

// CheckApproval classifies a command under the active security mode. It is
// a pure function of the current config and the input: no state is read
// from or written to disk, so dry-run calls never mutate anything.
func (e *Engine) CheckApproval(command string, opts CheckOptions) ApprovalResult {
	return e.checkWithMode(command, opts, e.cfg.Policy.Security)
}

// CheckApprovalPending classifies a command under the askFallback security
// mode, for use by the confirmation collaborator while a human decision is
// still pending.
func (e *Engine) CheckApprovalPending(command string, opts CheckOptions) ApprovalResult {
	return e.checkWithMode(command, opts, e.cfg.Policy.AskFallback)
}

func (e *Engine) checkWithMode(command string, opts CheckOptions, mode SecurityMode) ApprovalResult {
	analysis := e.AnalyzeCommand(command, opts)
	if !analysis.OK {
		// Parse failure dominates every policy mode, full included.
		return ApprovalResult{Reason: analysis.Reason, Analysis: analysis}
	}

	if opts.FromTrustedSkill && e.cfg.Policy.AutoAllowSkills {
		return ApprovalResult{Allowed: true, Reason: "command originates from a trusted skill", Analysis: analysis}
	}

	switch mode {
	case SecurityDeny:
		return ApprovalResult{Reason: "security policy is set to deny", Analysis: analysis}
	case SecurityFull:
		return ApprovalResult{Allowed: true, Reason: "security policy is set to full", Analysis: analysis}
	}

	// Allowlist mode: every segment in every chain must clear. The first
	// failing segment denies the whole command — partial approval of a
	// chain is not a supported outcome.
	var matched []AllowlistEntry
	seen := make(map[string]bool)
	for _, seg := range analysis.Segments {
		entry, ok := e.clearSegment(seg)
		if !ok {
			return ApprovalResult{Reason: "command not in allowlist or safe bins", Analysis: analysis}
		}
		if entry != nil && !seen[entry.ID] {
			seen[entry.ID] = true
			matched = append(matched, *entry)
		}
	}
	return ApprovalResult{
		Allowed:        true,
		Reason:         "all command segments are allowlisted or safe",
		MatchedEntries: matched,
		Analysis:       analysis,
	}
}

// clearSegment checks one segment against the allowlist and the safe-bin
// set. Returns the matching allowlist entry, if any, and whether the
// segment cleared. Patterns are compiled per call so every decision
// reflects the current config.
func (e *Engine) clearSegment(seg CommandSegment) (*AllowlistEntry, bool) {
	if seg.ResolvedPath != "" {
		for i := range e.cfg.Allowlist {
			entry := &e.cfg.Allowlist[i]
			p, err := CompilePattern(entry.Pattern)
			if err != nil {
				log.Debug("skipping unparseable allowlist pattern %q: %v", entry.Pattern, err)
				continue
			}
			if p.Match(seg.ResolvedPath) {
				return entry, true
			}
		}
	}
	if e.isSafeBinCall(seg) {
		return nil, true
	}
	return nil, false
}

// isSafeBinCall reports whether a segment is a safe-bin invocation: the
// executable name (as written, lowercased) is in the safe-bin set, it
// resolved to a real executable, and no non-flag argument is path-shaped.
// A lone "-" is the conventional stdin marker, not a path. Arguments are
// not resolved or canonicalized, so a bare filename reaching elsewhere via
// a symlink is not caught at this layer.
func (e *Engine) isSafeBinCall(seg CommandSegment) bool {
	name := strings.ToLower(seg.Executable)
	if !e.hasSafeBin(name) {
		return false
	}
	// An unresolvable "safe" name is never safe.
	if seg.ResolvedPath == "" {
		return false
	}
	for _, arg := range seg.Argv[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if strings.ContainsAny(arg, `/\`) {
			return false
		}
	}
	return true
}

func (e *Engine) hasSafeBin(name string) bool {
	for _, b := range e.cfg.SafeBins {
		if b == name {
			return true
		}
	}
	return false
}

// RequiresApproval reports whether the confirmation collaborator should
// prompt a human for this result. Ask-on-miss means "prompt only for what
// would otherwise be refused": parse failures and allowlist-mode denials.
func (e *Engine) RequiresApproval(res ApprovalResult) bool {
	switch e.cfg.Policy.Ask {
	case AskAlways:
		return true
	case AskOnMiss:
		if !res.Analysis.OK {
			return true
		}
		return !res.Allowed && e.cfg.Policy.Security == SecurityAllowlist
	}
	return false
}

// RecordUse updates an allowlist entry's usage telemetry and persists the
// config. It is invoked by the confirmation flow after a human grants
// approval, never implicitly by the check path. Returns false for an
// unknown entry ID.
func (e *Engine) RecordUse(entryID, command, resolvedPath string) (bool, error) {
	for i := range e.cfg.Allowlist {
		if e.cfg.Allowlist[i].ID != entryID {
			continue
		}
		entry := &e.cfg.Allowlist[i]
		now := time.Now().UTC()
		entry.LastUsedAt = &now
		entry.LastCommand = command
		if resolvedPath != "" {
			entry.LastPath = resolvedPath
		}
		entry.UseCount++
		return true, e.persist()
	}
	return false, nil
}

// AddAllowlist adds a pattern rule. Adding is idempotent by
// case-insensitive pattern equality: a duplicate returns the existing entry
// unchanged without touching the store. An empty pattern is a programmer
// error.
func (e *Engine) AddAllowlist(pattern, description string) (*AllowlistEntry, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("allowlist pattern must not be empty")
	}
	if _, err := CompilePattern(pattern); err != nil {
		return nil, fmt.Errorf("invalid allowlist pattern %q: %w", pattern, err)
	}
	if !IsPathShaped(pattern) {
		log.Warn("allowlist pattern %q has no path separator and will never match", pattern)
	}

	for i := range e.cfg.Allowlist {
		if strings.EqualFold(e.cfg.Allowlist[i].Pattern, pattern) {
			return cloneEntry(e.cfg.Allowlist[i]), nil
		}
	}

	entry := AllowlistEntry{
		ID:          uuid.NewString(),
		Pattern:     pattern,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	e.cfg.Allowlist = append(e.cfg.Allowlist, entry)
	if err := e.persist(); err != nil {
		e.cfg.Allowlist = e.cfg.Allowlist[:len(e.cfg.Allowlist)-1]
		return nil, err
	}
	return cloneEntry(entry), nil
}

// RemoveAllowlistByID removes an entry by ID. Unknown IDs are a no-op
// returning false.
func (e *Engine) RemoveAllowlistByID(id string) (bool, error) {
	return e.removeAllowlist(func(entry AllowlistEntry) bool { return entry.ID == id })
}

// RemoveAllowlistByPattern removes an entry by case-insensitive pattern
// equality. Unknown patterns are a no-op returning false.
func (e *Engine) RemoveAllowlistByPattern(pattern string) (bool, error) {
	return e.removeAllowlist(func(entry AllowlistEntry) bool {
		return strings.EqualFold(entry.Pattern, pattern)
	})
}

func (e *Engine) removeAllowlist(match func(AllowlistEntry) bool) (bool, error) {
	for i := range e.cfg.Allowlist {
		if !match(e.cfg.Allowlist[i]) {
			continue
		}
		removed := e.cfg.Allowlist[i]
		e.cfg.Allowlist = append(e.cfg.Allowlist[:i], e.cfg.Allowlist[i+1:]...)
		if err := e.persist(); err != nil {
			// Restore in-memory state so it still mirrors the disk.
			e.cfg.Allowlist = append(e.cfg.Allowlist[:i], append([]AllowlistEntry{removed}, e.cfg.Allowlist[i:]...)...)
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// UpdateAllowlist applies a partial update to an entry. Unknown IDs are a
// no-op returning nil.
func (e *Engine) UpdateAllowlist(id string, upd AllowlistUpdate) (*AllowlistEntry, error) {
	for i := range e.cfg.Allowlist {
		if e.cfg.Allowlist[i].ID != id {
			continue
		}
		entry := &e.cfg.Allowlist[i]
		prev := *entry
		if upd.Pattern != nil {
			pattern := strings.TrimSpace(*upd.Pattern)
			if pattern == "" {
				return nil, fmt.Errorf("allowlist pattern must not be empty")
			}
			if _, err := CompilePattern(pattern); err != nil {
				return nil, fmt.Errorf("invalid allowlist pattern %q: %w", pattern, err)
			}
			entry.Pattern = pattern
		}
		if upd.Description != nil {
			entry.Description = *upd.Description
		}
		if err := e.persist(); err != nil {
			*entry = prev
			return nil, err
		}
		return cloneEntry(*entry), nil
	}
	return nil, nil
}

// Allowlist returns a copy of all entries.
func (e *Engine) Allowlist() []AllowlistEntry {
	out := make([]AllowlistEntry, len(e.cfg.Allowlist))
	copy(out, e.cfg.Allowlist)
	return out
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy { return e.cfg.Policy }

// SetPolicy replaces the policy wholesale and persists.
func (e *Engine) SetPolicy(p Policy) error {
	if !p.Security.Valid() {
		return fmt.Errorf("invalid security mode %q (valid: deny, allowlist, full)", p.Security)
	}
	if !p.Ask.Valid() {
		return fmt.Errorf("invalid ask mode %q (valid: off, on-miss, always)", p.Ask)
	}
	if !p.AskFallback.Valid() {
		return fmt.Errorf("invalid askFallback mode %q (valid: deny, allowlist, full)", p.AskFallback)
	}
	prev := e.cfg.Policy
	e.cfg.Policy = p
	if err := e.persist(); err != nil {
		e.cfg.Policy = prev
		return err
	}
	return nil
}

// PatchPolicy updates the policy field-by-field and persists. Nil fields
// are left unchanged.
func (e *Engine) PatchPolicy(patch PolicyPatch) (Policy, error) {
	p := e.cfg.Policy
	if patch.Security != nil {
		p.Security = *patch.Security
	}
	if patch.Ask != nil {
		p.Ask = *patch.Ask
	}
	if patch.AskFallback != nil {
		p.AskFallback = *patch.AskFallback
	}
	if patch.AutoAllowSkills != nil {
		p.AutoAllowSkills = *patch.AutoAllowSkills
	}
	if err := e.SetPolicy(p); err != nil {
		return e.cfg.Policy, err
	}
	return p, nil
}

// SafeBins returns a copy of the safe-bin set, sorted.
func (e *Engine) SafeBins() []string {
	out := make([]string, len(e.cfg.SafeBins))
	copy(out, e.cfg.SafeBins)
	return out
}

// AddSafeBin adds a binary name to the safe-bin set. Names are lowercased.
// Returns false when the name was already present.
func (e *Engine) AddSafeBin(name string) (bool, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false, fmt.Errorf("safe-bin name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return false, fmt.Errorf("safe-bin name %q must be a bare binary name, not a path", name)
	}
	if e.hasSafeBin(name) {
		return false, nil
	}
	prev := e.cfg.SafeBins
	e.cfg.SafeBins = normalizeSafeBins(append(e.SafeBins(), name))
	if err := e.persist(); err != nil {
		e.cfg.SafeBins = prev
		return false, err
	}
	return true, nil
}

// RemoveSafeBin removes a binary name from the safe-bin set. Unknown names
// are a no-op returning false.
func (e *Engine) RemoveSafeBin(name string) (bool, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, b := range e.cfg.SafeBins {
		if b != name {
			continue
		}
		prev := e.SafeBins()
		e.cfg.SafeBins = append(e.cfg.SafeBins[:i], e.cfg.SafeBins[i+1:]...)
		if err := e.persist(); err != nil {
			e.cfg.SafeBins = prev
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// SetSafeBins replaces the safe-bin set wholesale and persists.
func (e *Engine) SetSafeBins(bins []string) error {
	prev := e.cfg.SafeBins
	e.cfg.SafeBins = normalizeSafeBins(bins)
	if err := e.persist(); err != nil {
		e.cfg.SafeBins = prev
		return err
	}
	return nil
}

// ExportConfig serializes the whole config as indented JSON for backup.
func (e *Engine) ExportConfig() ([]byte, error) {
	return json.MarshalIndent(e.cfg, "", "  ")
}

// ImportConfig replaces the whole config from exported JSON and persists.
// The import is validated before anything is replaced; a bad import leaves
// the engine untouched.
func (e *Engine) ImportConfig(data []byte) error {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	normalizeConfig(cfg)
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for i := range cfg.Allowlist {
		if _, err := CompilePattern(cfg.Allowlist[i].Pattern); err != nil {
			return fmt.Errorf("allowlist[%d]: invalid pattern %q: %w", i, cfg.Allowlist[i].Pattern, err)
		}
		if cfg.Allowlist[i].ID == "" {
			cfg.Allowlist[i].ID = uuid.NewString()
		}
	}
	prev := e.cfg
	e.cfg = cfg
	if err := e.persist(); err != nil {
		e.cfg = prev
		return err
	}
	return nil
}

// Reset restores built-in defaults and immediately persists them.
func (e *Engine) Reset() error {
	prev := e.cfg
	e.cfg = DefaultConfig()
	if err := e.persist(); err != nil {
		e.cfg = prev
		return err
	}
	return nil
}

func (e *Engine) persist() error {
	return e.store.Save(e.cfg)
}

func cloneEntry(entry AllowlistEntry) *AllowlistEntry {
	c := entry
	if entry.LastUsedAt != nil {
		t := *entry.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
