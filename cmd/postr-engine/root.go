package main

import (
	"github.com/spf13/cobra"

	"github.com/postersafari/postr-engine/version"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	debug      bool
	debugDB    bool
	dryRun     bool
	quiet      bool
	verbose    int
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "postr-engine",
		Short: "Poster analysis engine",
		Long: `postr-engine runs poster documents through a chain of analysis stages.

Configuration is read from --config, ./cmd/postr-engine/config.yml,
./config.yml or ~/.config/postr/config.yml, and every key can be overridden with a POSTR_ variable,
e.g. POSTR_ENGINE_MAX_IN_FLIGHT=8.

Examples:
  postr-engine run poster.json           # analyze one exported document
  postr-engine run --dry-run 3f2a...     # analyze a stored poster, write nothing
  postr-engine pump                      # drain the backlog until SIGTERM
  postr-engine stages                    # list stages and their parameters`,
		Version:      version.Full(),
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "Path to the config file")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug mode")
	pf.BoolVar(&flags.debugDB, "debug-db", false, "Use the debug databases")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Claim and process without writing results back")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Only log warnings and hide progress")
	pf.CountVarP(&flags.verbose, "verbose", "v", "Increase log verbosity (-v debug, -vv trace)")

	root.AddCommand(
		newRunCmd(flags),
		newPumpCmd(flags),
		newStagesCmd(flags),
	)
	return root
}

// logLevel maps the verbosity flags onto a level. Empty keeps the
// configured one.
func (f *globalFlags) logLevel() string {
	switch {
	case f.verbose >= 2:
		return "trace"
	case f.verbose == 1 || f.debug:
		return "debug"
	case f.quiet:
		return "warn"
	default:
		return ""
	}
}
