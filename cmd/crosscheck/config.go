package main

import (
	"fmt"
	"os"

	"github.com/crosscheckai/crosscheck/pkg/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create settings files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init <path>",
		Short:       "Write the default settings to a new file, JSON for .json paths and YAML otherwise",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"settings": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:         "check",
		Short:       "Load and validate settings, then print the agent panel size",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"logs": "stderr"},
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := c.settings.Registry()
			if err != nil {
				return err
			}
			credential := "missing"
			if c.settings.CredentialConfigured() {
				credential = "present"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "settings ok: %d agents, credential %s, auth %t\n",
				registry.Len(), credential, c.settings.Auth.Enabled())
			return err
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
