// Command crosscheck runs a document through a panel of trade-compliance agents,
// either once from the command line or as an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/crosscheckai/crosscheck/pkg/config"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/spf13/cobra"
)

// cli carries state shared by every subcommand
type cli struct {
	configPath string
	verbose    bool

	settings config.Settings
	logger   core.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "crosscheck",
		Short: "Cross-check trade documents against a panel of compliance agents",
		Long: `crosscheck sends one document to every configured agent concurrently and
folds their findings into a delay-risk verdict and action plan.

Settings come from --config (YAML or JSON) over built-in defaults, then from
CROSSCHECK_* environment variables, e.g. CROSSCHECK_SERVER_ADDR=:9090.
The agent platform key is read from invoker.api_key or AIRIA_API_KEY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["settings"] == "skip" {
				return nil
			}
			return c.load(cmd.Annotations["logs"] == "stderr")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CROSSCHECK_CONFIG"), "path to a YAML or JSON settings file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newServeCmd(c),
		newRunCmd(c),
		newAgentsCmd(c),
		newTokenCmd(c),
		newConfigCmd(c),
	)
	return root
}

// load reads settings and builds the logger. Commands that print results to
// stdout pass toStderr so logs do not interleave with their output.
func (c *cli) load(toStderr bool) error {
	s, err := config.LoadSettings(c.configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if c.verbose {
		s.Log.Level = "debug"
	}
	if toStderr && s.Log.Output == "stdout" {
		s.Log.Output = "stderr"
	}
	c.settings = s
	c.logger = core.NewLogger(s.Log)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
