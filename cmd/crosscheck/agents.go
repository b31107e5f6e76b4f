package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAgentsCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "agents",
		Short:       "List the configured agent panel",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"logs": "stderr"},
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := c.settings.Registry()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(registry.All())
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tTARGET")
			for _, d := range registry.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.ID, d.Target)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
