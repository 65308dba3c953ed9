// Package completion provides CLI tab-completion for cmdgate.
//
// The binary itself handles completions: when invoked with COMP_LINE set
// (by the shell), it outputs matching completions and exits.
// Works across bash, zsh, and fish with a one-time install.
package completion

import (
	"os"

	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/install"
	"github.com/posener/complete/v2/predict"
)

// command defines the full cmdgate CLI completion tree.
var command = &complete.Command{
	Sub: map[string]*complete.Command{
		"check": {
			Flags: map[string]complete.Predictor{
				"json":    predict.Nothing,
				"workdir": predict.Dirs("*"),
				"skill":   predict.Nothing,
				"pending": predict.Nothing,
			},
			Args: predict.Something,
		},
		"analyze": {
			Flags: map[string]complete.Predictor{"json": predict.Nothing, "workdir": predict.Dirs("*")},
			Args:  predict.Something,
		},
		"allow": {
			Sub: map[string]*complete.Command{
				"add":    {Flags: map[string]complete.Predictor{"desc": predict.Nothing}, Args: predict.Something},
				"remove": {Args: predict.Something},
				"list":   {Flags: map[string]complete.Predictor{"json": predict.Nothing}},
				"update": {
					Flags: map[string]complete.Predictor{"pattern": predict.Nothing, "desc": predict.Nothing},
					Args:  predict.Something,
				},
			},
		},
		"safebins": {
			Sub: map[string]*complete.Command{
				"list":   {Flags: map[string]complete.Predictor{"json": predict.Nothing}},
				"add":    {Args: predict.Something},
				"remove": {Args: predict.Something},
				"set":    {Args: predict.Something},
			},
		},
		"policy": {
			Flags: map[string]complete.Predictor{"json": predict.Nothing},
			Sub: map[string]*complete.Command{
				"set": {
					Flags: map[string]complete.Predictor{
						"security":          predict.Set{"deny", "allowlist", "full"},
						"ask":               predict.Set{"off", "on-miss", "always"},
						"ask-fallback":      predict.Set{"deny", "allowlist", "full"},
						"auto-allow-skills": predict.Set{"true", "false"},
					},
				},
			},
		},
		"export":     {Args: predict.Files("*.json")},
		"import":     {Args: predict.Files("*.json")},
		"reset":      {},
		"watch":      {},
		"help":       {},
		"version":    {Flags: map[string]complete.Predictor{"json": predict.Nothing}},
		"completion": {Flags: map[string]complete.Predictor{"install": predict.Nothing, "uninstall": predict.Nothing}},
	},
}

// Run checks if the binary was invoked for shell completion.
// If COMP_LINE is set, it outputs completions and exits (never returns).
// Otherwise it returns false and the program continues normally.
func Run() bool {
	if os.Getenv("COMP_LINE") != "" || os.Getenv("COMP_INSTALL") != "" || os.Getenv("COMP_UNINSTALL") != "" {
		command.Complete("cmdgate")
		return true
	}
	return false
}

// Install sets up shell completion for the detected shells.
func Install() error {
	return install.Install("cmdgate")
}

// Uninstall removes shell completion for the detected shells.
func Uninstall() error {
	return install.Uninstall("cmdgate")
}

// IsInstalled reports whether shell completion is already set up.
func IsInstalled() bool {
	return install.IsInstalled("cmdgate")
}
