package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cmdgate/cmdgate/internal/approval"
	"github.com/cmdgate/cmdgate/internal/completion"
	"github.com/cmdgate/cmdgate/internal/config"
	"github.com/cmdgate/cmdgate/internal/logger"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "1.0.0"

// ANSI colors for human-readable output
const (
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
	ansiBold  = "\033[1m"
	ansiReset = "\033[0m"
)

func main() {
	// Shell completion runs before anything else; it must not log.
	if completion.Run() {
		return
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "check":
			runCheck(os.Args[2:])
			return
		case "analyze":
			runAnalyze(os.Args[2:])
			return
		case "allow":
			runAllow(os.Args[2:])
			return
		case "safebins":
			runSafeBins(os.Args[2:])
			return
		case "policy":
			runPolicy(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "import":
			runImport(os.Args[2:])
			return
		case "reset":
			runReset(os.Args[2:])
			return
		case "watch":
			runWatch()
			return
		case "completion":
			runCompletion(os.Args[2:])
			return
		case "help", "-h", "--help":
			printUsage()
			return
		case "version", "-v", "--version":
			runVersion(os.Args[2:])
			return
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
	}

	printUsage()
}

// setupEngine loads the app config, applies env overrides, configures
// logging, and returns an engine over the resolved store path.
func setupEngine() *approval.Engine {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	env, err := config.LoadEnvOverrides()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	env.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.SetGlobalLevelFromString(cfg.Log.Level)
	if cfg.Log.NoColor {
		logger.SetColored(false)
	}

	return approval.NewEngine(approval.Options{StorePath: cfg.Store.Path})
}

// runCheck handles the check subcommand
func runCheck(args []string) {
	checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
	jsonOutput := checkFlags.Bool("json", false, "Output as JSON")
	workDir := checkFlags.String("workdir", "", "Working directory for relative path resolution")
	skill := checkFlags.Bool("skill", false, "Mark the command as coming from a trusted skill")
	pending := checkFlags.Bool("pending", false, "Evaluate under the askFallback mode")
	_ = checkFlags.Parse(args)

	command := strings.Join(checkFlags.Args(), " ")
	if strings.TrimSpace(command) == "" {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate check [flags] <command>")
		os.Exit(2)
	}

	engine := setupEngine()
	opts := approval.CheckOptions{WorkDir: *workDir, FromTrustedSkill: *skill}

	var res approval.ApprovalResult
	if *pending {
		res = engine.CheckApprovalPending(command, opts)
	} else {
		res = engine.CheckApproval(command, opts)
	}
	needsPrompt := engine.RequiresApproval(res)

	if *jsonOutput {
		out := struct {
			approval.ApprovalResult
			RequiresApproval bool `json:"requires_approval"`
		}{res, needsPrompt}
		printJSON(out)
	} else {
		printDecision(res, needsPrompt)
	}

	if !res.Allowed {
		os.Exit(1)
	}
}

func printDecision(res approval.ApprovalResult, needsPrompt bool) {
	if res.Allowed {
		fmt.Printf("%s%s✓ allowed%s  %s%s%s\n", ansiBold, ansiGreen, ansiReset, ansiGray, res.Reason, ansiReset)
	} else {
		fmt.Printf("%s%s✗ denied%s   %s%s%s\n", ansiBold, ansiRed, ansiReset, ansiGray, res.Reason, ansiReset)
	}

	for _, entry := range res.MatchedEntries {
		desc := entry.Description
		if desc != "" {
			desc = "  " + ansiGray + desc + ansiReset
		}
		fmt.Printf("  matched %s%s%s%s\n", ansiCyan, entry.Pattern, ansiReset, desc)
	}

	if needsPrompt {
		fmt.Printf("  %shuman approval required%s\n", ansiGray, ansiReset)
	}
}

// runAnalyze handles the analyze subcommand
func runAnalyze(args []string) {
	analyzeFlags := flag.NewFlagSet("analyze", flag.ExitOnError)
	jsonOutput := analyzeFlags.Bool("json", false, "Output as JSON")
	workDir := analyzeFlags.String("workdir", "", "Working directory for relative path resolution")
	_ = analyzeFlags.Parse(args)

	command := strings.Join(analyzeFlags.Args(), " ")
	if strings.TrimSpace(command) == "" {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate analyze [flags] <command>")
		os.Exit(2)
	}

	engine := setupEngine()
	a := engine.AnalyzeCommand(command, approval.CheckOptions{WorkDir: *workDir})

	if *jsonOutput {
		printJSON(a)
		if !a.OK {
			os.Exit(1)
		}
		return
	}

	if !a.OK {
		fmt.Printf("%s%s✗ rejected%s  %s\n", ansiBold, ansiRed, ansiReset, a.Reason)
		os.Exit(1)
	}

	chains := a.Chains
	if chains == nil {
		chains = [][]approval.CommandSegment{a.Segments}
	}
	for i, chain := range chains {
		if len(chains) > 1 {
			fmt.Printf("%schain %d%s\n", ansiBold, i+1, ansiReset)
		}
		for _, seg := range chain {
			resolved := seg.ResolvedPath
			color := ansiGreen
			if resolved == "" {
				resolved = "(not found)"
				color = ansiRed
			}
			fmt.Printf("  %s%s%s -> %s%s%s\n", ansiCyan, seg.Executable, ansiReset, color, resolved, ansiReset)
			fmt.Printf("    %sargv: %s%s\n", ansiGray, strings.Join(seg.Argv, " | "), ansiReset)
		}
	}
}

// runAllow handles the allow subcommand group
func runAllow(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate allow <add|remove|list|update> ...")
		os.Exit(2)
	}
	switch args[0] {
	case "add":
		runAllowAdd(args[1:])
	case "remove":
		runAllowRemove(args[1:])
	case "list":
		runAllowList(args[1:])
	case "update":
		runAllowUpdate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown allow subcommand: %s\n", args[0])
		os.Exit(2)
	}
}

func runAllowAdd(args []string) {
	addFlags := flag.NewFlagSet("allow add", flag.ExitOnError)
	desc := addFlags.String("desc", "", "Human-readable description")
	_ = addFlags.Parse(args)

	if addFlags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate allow add [--desc text] <pattern>")
		os.Exit(2)
	}

	engine := setupEngine()
	entry, err := engine.AddAllowlist(addFlags.Arg(0), *desc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Allowlist entry %s%s%s added [%s]\n", ansiCyan, entry.Pattern, ansiReset, entry.ID)
}

func runAllowRemove(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate allow remove <id|pattern>")
		os.Exit(2)
	}

	engine := setupEngine()
	removed, err := engine.RemoveAllowlistByID(args[0])
	if err == nil && !removed {
		removed, err = engine.RemoveAllowlistByPattern(args[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !removed {
		fmt.Fprintf(os.Stderr, "No allowlist entry matches %q\n", args[0])
		os.Exit(1)
	}
	fmt.Println("Allowlist entry removed")
}

func runAllowList(args []string) {
	listFlags := flag.NewFlagSet("allow list", flag.ExitOnError)
	jsonOutput := listFlags.Bool("json", false, "Output as JSON")
	_ = listFlags.Parse(args)

	engine := setupEngine()
	entries := engine.Allowlist()

	if *jsonOutput {
		printJSON(entries)
		return
	}

	fmt.Printf("%s%sAllowlist%s (%d entries)\n\n", ansiBold, ansiCyan, ansiReset, len(entries))
	for _, entry := range entries {
		fmt.Printf("%s✓%s %s%s%s  %s%s%s\n", ansiGreen, ansiReset, ansiBold, entry.Pattern, ansiReset, ansiGray, entry.ID, ansiReset)
		if entry.Description != "" {
			fmt.Printf("  %s%s%s\n", ansiGray, entry.Description, ansiReset)
		}
		if entry.UseCount > 0 {
			last := ""
			if entry.LastUsedAt != nil {
				last = ", last " + entry.LastUsedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("  %sused %d times%s%s\n", ansiGray, entry.UseCount, last, ansiReset)
		}
	}
}

func runAllowUpdate(args []string) {
	updateFlags := flag.NewFlagSet("allow update", flag.ExitOnError)
	pattern := updateFlags.String("pattern", "", "New glob pattern")
	desc := updateFlags.String("desc", "", "New description")
	_ = updateFlags.Parse(args)

	if updateFlags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate allow update [--pattern p] [--desc text] <id>")
		os.Exit(2)
	}

	// Only flags the user actually passed become part of the update.
	var upd approval.AllowlistUpdate
	updateFlags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pattern":
			upd.Pattern = pattern
		case "desc":
			upd.Description = desc
		}
	})

	engine := setupEngine()
	entry, err := engine.UpdateAllowlist(updateFlags.Arg(0), upd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if entry == nil {
		fmt.Fprintf(os.Stderr, "No allowlist entry with id %q\n", updateFlags.Arg(0))
		os.Exit(1)
	}
	fmt.Printf("Allowlist entry updated: %s%s%s\n", ansiCyan, entry.Pattern, ansiReset)
}

// runSafeBins handles the safebins subcommand group
func runSafeBins(args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "list":
		listFlags := flag.NewFlagSet("safebins list", flag.ExitOnError)
		jsonOutput := listFlags.Bool("json", false, "Output as JSON")
		_ = listFlags.Parse(args)

		engine := setupEngine()
		bins := engine.SafeBins()
		if *jsonOutput {
			printJSON(bins)
			return
		}
		fmt.Printf("%s%sSafe bins%s (%d)\n\n  %s\n", ansiBold, ansiCyan, ansiReset, len(bins), strings.Join(bins, " "))

	case "add":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "Usage: cmdgate safebins add <name>")
			os.Exit(2)
		}
		engine := setupEngine()
		added, err := engine.AddSafeBin(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !added {
			fmt.Printf("%q is already a safe bin\n", strings.ToLower(strings.TrimSpace(args[0])))
			return
		}
		fmt.Printf("Safe bin %s%s%s added\n", ansiCyan, strings.ToLower(strings.TrimSpace(args[0])), ansiReset)

	case "set":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: cmdgate safebins set <name> [name...]")
			os.Exit(2)
		}
		engine := setupEngine()
		if err := engine.SetSafeBins(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Safe bins replaced: %s\n", strings.Join(engine.SafeBins(), " "))

	case "remove":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "Usage: cmdgate safebins remove <name>")
			os.Exit(2)
		}
		engine := setupEngine()
		removed, err := engine.RemoveSafeBin(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !removed {
			fmt.Fprintf(os.Stderr, "%q is not a safe bin\n", args[0])
			os.Exit(1)
		}
		fmt.Println("Safe bin removed")

	default:
		fmt.Fprintf(os.Stderr, "Unknown safebins subcommand: %s\n", sub)
		os.Exit(2)
	}
}

// runPolicy handles the policy subcommand
func runPolicy(args []string) {
	if len(args) > 0 && args[0] == "set" {
		runPolicySet(args[1:])
		return
	}

	policyFlags := flag.NewFlagSet("policy", flag.ExitOnError)
	jsonOutput := policyFlags.Bool("json", false, "Output as JSON")
	_ = policyFlags.Parse(args)

	engine := setupEngine()
	p := engine.Policy()
	if *jsonOutput {
		printJSON(p)
		return
	}
	fmt.Printf("%s%sPolicy%s\n\n", ansiBold, ansiCyan, ansiReset)
	fmt.Printf("  security           %s\n", p.Security)
	fmt.Printf("  ask                %s\n", p.Ask)
	fmt.Printf("  ask-fallback       %s\n", p.AskFallback)
	fmt.Printf("  auto-allow-skills  %v\n", p.AutoAllowSkills)
}

func runPolicySet(args []string) {
	setFlags := flag.NewFlagSet("policy set", flag.ExitOnError)
	security := setFlags.String("security", "", "Security mode: deny, allowlist, full")
	ask := setFlags.String("ask", "", "Ask mode: off, on-miss, always")
	askFallback := setFlags.String("ask-fallback", "", "Security mode while a decision is pending: deny, allowlist, full")
	autoAllow := setFlags.Bool("auto-allow-skills", false, "Let trusted skill commands bypass the gate")
	_ = setFlags.Parse(args)

	var patch approval.PolicyPatch
	setFlags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "security":
			m := approval.SecurityMode(*security)
			patch.Security = &m
		case "ask":
			m := approval.AskMode(*ask)
			patch.Ask = &m
		case "ask-fallback":
			m := approval.SecurityMode(*askFallback)
			patch.AskFallback = &m
		case "auto-allow-skills":
			patch.AutoAllowSkills = autoAllow
		}
	})

	if patch == (approval.PolicyPatch{}) {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate policy set [--security m] [--ask m] [--ask-fallback m] [--auto-allow-skills]")
		os.Exit(2)
	}

	engine := setupEngine()
	p, err := engine.PatchPolicy(patch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Policy updated: security=%s ask=%s ask-fallback=%s auto-allow-skills=%v\n",
		p.Security, p.Ask, p.AskFallback, p.AutoAllowSkills)
}

// runExport handles the export subcommand
func runExport(args []string) {
	engine := setupEngine()
	data, err := engine.ExportConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(args) == 0 {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(args[0], append(data, '\n'), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", args[0], err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", args[0])
}

// runImport handles the import subcommand
func runImport(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cmdgate import <file.json>")
		os.Exit(2)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	engine := setupEngine()
	if err := engine.ImportConfig(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config imported: %d allowlist entries, %d safe bins\n",
		len(engine.Allowlist()), len(engine.SafeBins()))
}

// runReset handles the reset subcommand
func runReset(args []string) {
	resetFlags := flag.NewFlagSet("reset", flag.ExitOnError)
	force := resetFlags.Bool("force", false, "Skip the confirmation prompt")
	_ = resetFlags.Parse(args)

	engine := setupEngine()
	if !*force {
		fmt.Printf("This discards the policy, allowlist, and safe-bin changes in %s.\nType yes to continue: ", engine.StorePath())
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted")
			return
		}
	}

	if err := engine.Reset(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Approval config reset to defaults")
}

// runWatch handles the watch subcommand: hot reload on store edits until
// interrupted. Useful while hand-editing the store file.
func runWatch() {
	engine := setupEngine()
	watcher, err := approval.NewWatcher(engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := watcher.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", engine.StorePath())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := watcher.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping watcher: %v\n", err)
	}
}

// runCompletion handles the completion subcommand
func runCompletion(args []string) {
	completionFlags := flag.NewFlagSet("completion", flag.ExitOnError)
	installFlag := completionFlags.Bool("install", false, "Install shell completion")
	uninstallFlag := completionFlags.Bool("uninstall", false, "Uninstall shell completion")
	_ = completionFlags.Parse(args)

	switch {
	case *installFlag:
		if err := completion.Install(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Shell completion installed. Restart your shell to activate it.")
	case *uninstallFlag:
		if err := completion.Uninstall(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Shell completion uninstalled")
	default:
		if completion.IsInstalled() {
			fmt.Println("Shell completion is installed")
		} else {
			fmt.Println("Shell completion is not installed. Run: cmdgate completion --install")
		}
	}
}

func runVersion(args []string) {
	versionFlags := flag.NewFlagSet("version", flag.ExitOnError)
	jsonOutput := versionFlags.Bool("json", false, "Output as JSON")
	_ = versionFlags.Parse(args)

	if *jsonOutput {
		printJSON(map[string]string{"version": Version})
		return
	}
	fmt.Printf("cmdgate version %s\n", Version)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func printUsage() {
	fmt.Println(`cmdgate - Command approval gate for autonomous agents

Usage:
  cmdgate check [flags] <command>        Decide whether a command may run
  cmdgate analyze [flags] <command>      Show how a command parses and resolves

  cmdgate allow add [--desc t] <pattern>           Add an allowlist glob
  cmdgate allow remove <id|pattern>                Remove an allowlist entry
  cmdgate allow list [--json]                      List allowlist entries
  cmdgate allow update [--pattern p] [--desc t] <id>  Edit an entry

  cmdgate safebins [list|add|remove|set] ...        Manage safe bins
  cmdgate policy [--json]                           Show the active policy
  cmdgate policy set [flags]                        Change the policy

  cmdgate export [file.json]            Export the approval config
  cmdgate import <file.json>            Import an exported config
  cmdgate reset [--force]               Restore built-in defaults
  cmdgate watch                         Hot reload on store file edits

  cmdgate completion [--install|--uninstall]  Manage shell completion
  cmdgate help                          Show this help message
  cmdgate version                       Show version

Check Flags:
  --json            Output the full decision as JSON
  --workdir string  Working directory for relative path resolution
  --skill           Mark the command as coming from a trusted skill
  --pending         Evaluate under the askFallback mode

Policy Set Flags:
  --security string       deny, allowlist, or full
  --ask string            off, on-miss, or always
  --ask-fallback string   deny, allowlist, or full
  --auto-allow-skills     Let trusted skill commands bypass the gate

Environment Variables:
  CMDGATE_LOG_LEVEL   Override log.level (trace, debug, info, warn, error)
  CMDGATE_NO_COLOR    Disable colored log output
  CMDGATE_STORE       Override the approval store path

Exit codes: 0 allowed, 1 denied or error, 2 usage.

Examples:
  cmdgate check 'git status'
  cmdgate allow add '/usr/bin/*' --desc 'system tools'
  cmdgate policy set --security allowlist
  cmdgate check --json 'cat notes.txt | grep todo'`)
}
