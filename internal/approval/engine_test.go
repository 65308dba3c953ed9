package approval

import (
	"path/filepath"
	"strings"
	"testing"
)

type testEnv struct {
	engine *Engine
	bin    string
	opts   CheckOptions
}

// newTestEnv builds an engine on a throwaway store plus a PATH directory
// populated with the named executables.
func newTestEnv(t *testing.T, bins ...string) *testEnv {
	t.Helper()
	skipIfWindows(t)

	bin := t.TempDir()
	for _, b := range bins {
		writeExec(t, bin, b)
	}
	engine := NewEngine(Options{StorePath: filepath.Join(t.TempDir(), "approvals.json")})
	return &testEnv{
		engine: engine,
		bin:    bin,
		opts:   CheckOptions{Env: map[string]string{"PATH": bin}},
	}
}

func (te *testEnv) allowlistMode(t *testing.T) {
	t.Helper()
	p := te.engine.Policy()
	p.Security = SecurityAllowlist
	if err := te.engine.SetPolicy(p); err != nil {
		t.Fatal(err)
	}
}

func TestAnalyzeCommand(t *testing.T) {
	te := newTestEnv(t, "git", "grep")

	t.Run("simple", func(t *testing.T) {
		a := te.engine.AnalyzeCommand("git status", te.opts)
		if !a.OK {
			t.Fatalf("rejected: %s", a.Reason)
		}
		if len(a.Segments) != 1 || a.Chains != nil {
			t.Fatalf("segments = %d, chains = %v", len(a.Segments), a.Chains)
		}
		seg := a.Segments[0]
		if seg.Executable != "git" || seg.IsPath {
			t.Errorf("segment = %+v", seg)
		}
		if seg.ResolvedPath != filepath.Join(te.bin, "git") {
			t.Errorf("resolved = %q", seg.ResolvedPath)
		}
	})

	t.Run("pipeline", func(t *testing.T) {
		a := te.engine.AnalyzeCommand("git log | grep fix", te.opts)
		if !a.OK {
			t.Fatalf("rejected: %s", a.Reason)
		}
		if len(a.Segments) != 2 || a.Chains != nil {
			t.Fatalf("segments = %d, chains = %v", len(a.Segments), a.Chains)
		}
	})

	t.Run("chain", func(t *testing.T) {
		a := te.engine.AnalyzeCommand("git fetch && git log | grep fix; git status", te.opts)
		if !a.OK {
			t.Fatalf("rejected: %s", a.Reason)
		}
		if len(a.Chains) != 3 {
			t.Fatalf("chains = %d", len(a.Chains))
		}
		if len(a.Segments) != 4 {
			t.Fatalf("flat segments = %d", len(a.Segments))
		}
		if len(a.Chains[1]) != 2 {
			t.Errorf("middle chain segments = %d", len(a.Chains[1]))
		}
	})

	t.Run("empty command", func(t *testing.T) {
		a := te.engine.AnalyzeCommand("   ", te.opts)
		if a.OK {
			t.Fatal("blank command parsed")
		}
	})

	t.Run("unresolvable keeps analysis ok", func(t *testing.T) {
		a := te.engine.AnalyzeCommand("no-such-tool --version", te.opts)
		if !a.OK {
			t.Fatalf("rejected: %s", a.Reason)
		}
		if a.Segments[0].ResolvedPath != "" {
			t.Errorf("resolved = %q", a.Segments[0].ResolvedPath)
		}
	})
}

func TestCheckApprovalParseFailureDominates(t *testing.T) {
	te := newTestEnv(t, "git")
	if err := te.engine.SetPolicy(Policy{Security: SecurityFull, Ask: AskOff, AskFallback: SecurityDeny}); err != nil {
		t.Fatal(err)
	}

	res := te.engine.CheckApproval("git log > out.txt", te.opts)
	if res.Allowed {
		t.Fatal("redirection allowed under full mode")
	}
	if !strings.Contains(res.Reason, "redirection") {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestCheckApprovalDenyMode(t *testing.T) {
	te := newTestEnv(t, "git")
	res := te.engine.CheckApproval("git status", te.opts)
	if res.Allowed {
		t.Fatal("deny mode allowed a command")
	}
	if res.Reason != "security policy is set to deny" {
		t.Errorf("reason = %q", res.Reason)
	}
	if !res.Analysis.OK {
		t.Error("analysis should still succeed under deny")
	}
}

func TestCheckApprovalFullMode(t *testing.T) {
	te := newTestEnv(t)
	if err := te.engine.SetPolicy(Policy{Security: SecurityFull, Ask: AskOff, AskFallback: SecurityDeny}); err != nil {
		t.Fatal(err)
	}
	res := te.engine.CheckApproval("anything --at --all", te.opts)
	if !res.Allowed {
		t.Fatalf("full mode denied: %s", res.Reason)
	}
	if res.Reason != "security policy is set to full" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestCheckApprovalAllowlist(t *testing.T) {
	te := newTestEnv(t, "git", "rm")
	te.allowlistMode(t)
	entry, err := te.engine.AddAllowlist(te.bin+"/git", "version control")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("match records entry", func(t *testing.T) {
		res := te.engine.CheckApproval("git status", te.opts)
		if !res.Allowed {
			t.Fatalf("denied: %s", res.Reason)
		}
		if len(res.MatchedEntries) != 1 || res.MatchedEntries[0].ID != entry.ID {
			t.Errorf("matched = %+v", res.MatchedEntries)
		}
	})

	t.Run("miss denies", func(t *testing.T) {
		res := te.engine.CheckApproval("rm -rf build", te.opts)
		if res.Allowed {
			t.Fatal("unlisted command allowed")
		}
		if res.Reason != "command not in allowlist or safe bins" {
			t.Errorf("reason = %q", res.Reason)
		}
	})

	t.Run("one bad segment denies the chain", func(t *testing.T) {
		res := te.engine.CheckApproval("git fetch && rm -rf build", te.opts)
		if res.Allowed {
			t.Fatal("chain with unlisted segment allowed")
		}
	})

	t.Run("unresolvable never matches", func(t *testing.T) {
		res := te.engine.CheckApproval("no-such-tool", te.opts)
		if res.Allowed {
			t.Fatal("unresolvable command allowed")
		}
	})
}

func TestCheckApprovalGlobAllowlist(t *testing.T) {
	te := newTestEnv(t, "git", "go")
	te.allowlistMode(t)
	if _, err := te.engine.AddAllowlist(te.bin+"/*", "toolchain dir"); err != nil {
		t.Fatal(err)
	}

	for _, cmd := range []string{"git status", "go vet"} {
		if res := te.engine.CheckApproval(cmd, te.opts); !res.Allowed {
			t.Errorf("%q denied: %s", cmd, res.Reason)
		}
	}
}

func TestCheckApprovalSafeBins(t *testing.T) {
	te := newTestEnv(t, "cat", "ls", "grep")
	te.allowlistMode(t)

	tests := []struct {
		cmd  string
		want bool
	}{
		{"cat notes.txt", true},
		{"ls -la", true},
		{"cat -", true},
		{"cat /etc/passwd", false},
		{"cat ../secret", false},
		{"grep -r pattern src/main.go", false},
		{"cat a.txt | grep foo", true},
		{"jq .", false}, // in the default set but not on PATH
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			res := te.engine.CheckApproval(tt.cmd, te.opts)
			if res.Allowed != tt.want {
				t.Errorf("allowed = %v, want %v (%s)", res.Allowed, tt.want, res.Reason)
			}
			if res.Allowed && len(res.MatchedEntries) != 0 {
				t.Errorf("safe-bin clear recorded allowlist entries: %+v", res.MatchedEntries)
			}
		})
	}
}

func TestCheckApprovalSafeBinAsPathIsNotSafe(t *testing.T) {
	te := newTestEnv(t, "cat")
	te.allowlistMode(t)

	res := te.engine.CheckApproval(te.bin+"/cat notes.txt", te.opts)
	if res.Allowed {
		t.Fatal("path-written invocation cleared as safe bin")
	}
}

func TestCheckApprovalTrustedSkillBypass(t *testing.T) {
	te := newTestEnv(t, "git")

	opts := te.opts
	opts.FromTrustedSkill = true
	if res := te.engine.CheckApproval("git status", opts); res.Allowed {
		t.Fatal("skill bypass active without autoAllowSkills")
	}

	if _, err := te.engine.PatchPolicy(PolicyPatch{AutoAllowSkills: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}
	res := te.engine.CheckApproval("git status", opts)
	if !res.Allowed {
		t.Fatalf("trusted skill denied: %s", res.Reason)
	}

	// A parse failure still dominates the bypass.
	if res := te.engine.CheckApproval("git log `date`", opts); res.Allowed {
		t.Fatal("unparseable skill command allowed")
	}
}

func TestCheckApprovalPendingUsesFallback(t *testing.T) {
	te := newTestEnv(t, "cat")
	if err := te.engine.SetPolicy(Policy{Security: SecurityDeny, Ask: AskOnMiss, AskFallback: SecurityAllowlist}); err != nil {
		t.Fatal(err)
	}

	if res := te.engine.CheckApproval("cat notes.txt", te.opts); res.Allowed {
		t.Fatal("deny mode allowed")
	}
	if res := te.engine.CheckApprovalPending("cat notes.txt", te.opts); !res.Allowed {
		t.Fatalf("fallback allowlist denied a safe bin: %s", res.Reason)
	}
}

func TestRequiresApproval(t *testing.T) {
	te := newTestEnv(t, "cat", "rm")
	te.allowlistMode(t)

	allowed := te.engine.CheckApproval("cat notes.txt", te.opts)
	missed := te.engine.CheckApproval("rm -rf build", te.opts)
	unparsed := te.engine.CheckApproval("cat a > b", te.opts)

	// on-miss (active): prompt only for refusals.
	if te.engine.RequiresApproval(allowed) {
		t.Error("on-miss prompted for an allowed command")
	}
	if !te.engine.RequiresApproval(missed) {
		t.Error("on-miss did not prompt for an allowlist miss")
	}
	if !te.engine.RequiresApproval(unparsed) {
		t.Error("on-miss did not prompt for a parse failure")
	}

	// on-miss under deny mode: the denial is policy, not a miss.
	if err := te.engine.SetPolicy(Policy{Security: SecurityDeny, Ask: AskOnMiss, AskFallback: SecurityDeny}); err != nil {
		t.Fatal(err)
	}
	denied := te.engine.CheckApproval("cat notes.txt", te.opts)
	if te.engine.RequiresApproval(denied) {
		t.Error("on-miss prompted for a deny-mode denial")
	}

	if _, err := te.engine.PatchPolicy(PolicyPatch{Ask: askPtr(AskAlways)}); err != nil {
		t.Fatal(err)
	}
	if !te.engine.RequiresApproval(denied) {
		t.Error("always did not prompt")
	}

	if _, err := te.engine.PatchPolicy(PolicyPatch{Ask: askPtr(AskOff)}); err != nil {
		t.Fatal(err)
	}
	if te.engine.RequiresApproval(missed) {
		t.Error("off prompted")
	}
}

func TestAllowlistCRUD(t *testing.T) {
	te := newTestEnv(t)

	entry, err := te.engine.AddAllowlist("/usr/bin/*", "system tools")
	if err != nil {
		t.Fatal(err)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Errorf("entry not initialized: %+v", entry)
	}

	t.Run("duplicate is idempotent", func(t *testing.T) {
		dup, err := te.engine.AddAllowlist("/USR/BIN/*", "different text")
		if err != nil {
			t.Fatal(err)
		}
		if dup.ID != entry.ID {
			t.Errorf("duplicate created a new entry: %s vs %s", dup.ID, entry.ID)
		}
		if len(te.engine.Allowlist()) != 1 {
			t.Errorf("allowlist grew on duplicate add")
		}
	})

	t.Run("empty pattern rejected", func(t *testing.T) {
		if _, err := te.engine.AddAllowlist("   ", ""); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("malformed pattern rejected", func(t *testing.T) {
		if _, err := te.engine.AddAllowlist("/usr/[", ""); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("update", func(t *testing.T) {
		desc := "updated"
		got, err := te.engine.UpdateAllowlist(entry.ID, AllowlistUpdate{Description: &desc})
		if err != nil {
			t.Fatal(err)
		}
		if got.Description != "updated" || got.Pattern != "/usr/bin/*" {
			t.Errorf("update result = %+v", got)
		}
	})

	t.Run("update unknown id is nil", func(t *testing.T) {
		got, err := te.engine.UpdateAllowlist("nope", AllowlistUpdate{})
		if err != nil || got != nil {
			t.Errorf("got %+v, %v", got, err)
		}
	})

	t.Run("remove by pattern", func(t *testing.T) {
		ok, err := te.engine.RemoveAllowlistByPattern("/USR/bin/*")
		if err != nil || !ok {
			t.Fatalf("remove = %v, %v", ok, err)
		}
		if ok, _ := te.engine.RemoveAllowlistByPattern("/usr/bin/*"); ok {
			t.Error("second remove reported true")
		}
	})

	t.Run("remove by unknown id", func(t *testing.T) {
		if ok, _ := te.engine.RemoveAllowlistByID("nope"); ok {
			t.Error("unknown id reported removed")
		}
	})
}

func TestRecordUse(t *testing.T) {
	te := newTestEnv(t)
	entry, err := te.engine.AddAllowlist("/usr/bin/git", "")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := te.engine.RecordUse(entry.ID, "git push", "/usr/bin/git")
	if err != nil || !ok {
		t.Fatalf("RecordUse = %v, %v", ok, err)
	}
	if ok, _ := te.engine.RecordUse("nope", "x", ""); ok {
		t.Error("unknown id reported recorded")
	}

	// Telemetry must survive a reload from disk.
	fresh := NewEngine(Options{StorePath: te.engine.StorePath()})
	got := fresh.Allowlist()[0]
	if got.UseCount != 1 || got.LastCommand != "git push" || got.LastPath != "/usr/bin/git" || got.LastUsedAt == nil {
		t.Errorf("telemetry not persisted: %+v", got)
	}
}

func TestPolicyValidation(t *testing.T) {
	te := newTestEnv(t)
	if err := te.engine.SetPolicy(Policy{Security: "yolo", Ask: AskOff, AskFallback: SecurityDeny}); err == nil {
		t.Error("invalid security mode accepted")
	}
	if err := te.engine.SetPolicy(Policy{Security: SecurityDeny, Ask: "maybe", AskFallback: SecurityDeny}); err == nil {
		t.Error("invalid ask mode accepted")
	}
	if te.engine.Policy().Security != SecurityDeny {
		t.Error("failed SetPolicy mutated state")
	}
}

func TestSafeBinCRUD(t *testing.T) {
	te := newTestEnv(t)

	added, err := te.engine.AddSafeBin("  RipGrep ")
	if err != nil || !added {
		t.Fatalf("AddSafeBin = %v, %v", added, err)
	}
	if added, _ := te.engine.AddSafeBin("ripgrep"); added {
		t.Error("duplicate add reported true")
	}
	if _, err := te.engine.AddSafeBin("/usr/bin/rg"); err == nil {
		t.Error("path-shaped safe bin accepted")
	}
	if _, err := te.engine.AddSafeBin(""); err == nil {
		t.Error("empty safe bin accepted")
	}

	removed, err := te.engine.RemoveSafeBin("ripgrep")
	if err != nil || !removed {
		t.Fatalf("RemoveSafeBin = %v, %v", removed, err)
	}
	if removed, _ := te.engine.RemoveSafeBin("ripgrep"); removed {
		t.Error("second remove reported true")
	}

	if err := te.engine.SetSafeBins([]string{"Zed", "alpha", "zed"}); err != nil {
		t.Fatal(err)
	}
	bins := te.engine.SafeBins()
	if len(bins) != 2 || bins[0] != "alpha" || bins[1] != "zed" {
		t.Errorf("SetSafeBins result = %v", bins)
	}
}

func TestExportImport(t *testing.T) {
	te := newTestEnv(t)
	if _, err := te.engine.AddAllowlist("/opt/tools/**", "tools"); err != nil {
		t.Fatal(err)
	}

	data, err := te.engine.ExportConfig()
	if err != nil {
		t.Fatal(err)
	}

	other := NewEngine(Options{StorePath: filepath.Join(t.TempDir(), "approvals.json")})
	if err := other.ImportConfig(data); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}
	if got := other.Allowlist(); len(got) != 1 || got[0].Pattern != "/opt/tools/**" {
		t.Errorf("imported allowlist = %+v", got)
	}

	t.Run("bad json", func(t *testing.T) {
		if err := other.ImportConfig([]byte("{nope")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("bad pattern leaves engine untouched", func(t *testing.T) {
		if err := other.ImportConfig([]byte(`{"policy":{},"allowlist":[{"id":"a","pattern":"/usr/["}],"safeBins":[]}`)); err == nil {
			t.Fatal("expected error")
		}
		if len(other.Allowlist()) != 1 {
			t.Error("failed import mutated allowlist")
		}
	})

	t.Run("missing pattern rejected", func(t *testing.T) {
		if err := other.ImportConfig([]byte(`{"policy":{},"allowlist":[{"id":"a"}],"safeBins":[]}`)); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestReset(t *testing.T) {
	te := newTestEnv(t)
	if _, err := te.engine.AddAllowlist("/opt/**", ""); err != nil {
		t.Fatal(err)
	}
	if err := te.engine.SetPolicy(Policy{Security: SecurityFull, Ask: AskOff, AskFallback: SecurityFull}); err != nil {
		t.Fatal(err)
	}

	if err := te.engine.Reset(); err != nil {
		t.Fatal(err)
	}
	if te.engine.Policy().Security != SecurityDeny || len(te.engine.Allowlist()) != 0 {
		t.Error("reset did not restore defaults")
	}

	// And on disk too.
	fresh := NewEngine(Options{StorePath: te.engine.StorePath()})
	if fresh.Policy().Security != SecurityDeny {
		t.Error("reset not persisted")
	}
}

func TestMutationsPersistAcrossEngines(t *testing.T) {
	te := newTestEnv(t)
	if _, err := te.engine.AddAllowlist("/srv/deploy/*", "deploys"); err != nil {
		t.Fatal(err)
	}

	fresh := NewEngine(Options{StorePath: te.engine.StorePath()})
	if got := fresh.Allowlist(); len(got) != 1 || got[0].Pattern != "/srv/deploy/*" {
		t.Errorf("fresh engine sees %+v", got)
	}
}

func TestPolicyOverrideAtConstruction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	first := NewEngine(Options{StorePath: path})
	if err := first.SetPolicy(Policy{Security: SecurityFull, Ask: AskOff, AskFallback: SecurityFull}); err != nil {
		t.Fatal(err)
	}

	override := Policy{Security: SecurityDeny, Ask: AskAlways, AskFallback: SecurityDeny}
	second := NewEngine(Options{StorePath: path, Policy: &override})
	if second.Policy().Security != SecurityDeny || second.Policy().Ask != AskAlways {
		t.Errorf("override not applied: %+v", second.Policy())
	}
}

func boolPtr(b bool) *bool      { return &b }
func askPtr(m AskMode) *AskMode { return &m }
