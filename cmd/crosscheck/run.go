package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/dashboard"
	"github.com/crosscheckai/crosscheck/pkg/verdict"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runResult struct {
	BatchID  string          `json:"batchId"`
	Outcomes []agent.Outcome `json:"outcomes"`
	Verdict  verdict.Verdict `json:"verdict"`
}

func newRunCmd(c *cli) *cobra.Command {
	var (
		file       string
		agentIDs   []string
		shipmentID string
	)

	cmd := &cobra.Command{
		Use:   "run [text]",
		Short: "Run one document through the agent panel and print the result as JSON",
		Long: `Run one document through every agent, or only those named by --agents, and
print the outcomes and verdict as JSON. The document is the argument, the
contents of --file, or standard input when neither is given or --file is "-".`,
		Example: `  crosscheck run --file invoice.txt
  crosscheck run --agents 09d34238-c58a-41ff-8034-7f9ebe3e1d73 "HS 8471.30 laptops, origin VN"
  cat bill.txt | crosscheck run --shipment SHP-1001`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"logs": "stderr"},
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), c.settings, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			batchID := uuid.NewString()
			opts := []dashboard.SubmitOption{dashboard.WithRunID(batchID)}
			if shipmentID != "" {
				opts = append(opts, dashboard.WithShipmentID(shipmentID))
			}

			var outcomes []agent.Outcome
			if cmd.Flags().Changed("agents") {
				outcomes, err = a.service.ProcessSubset(cmd.Context(), agentIDs, text, opts...)
			} else {
				outcomes, err = a.service.ProcessAll(cmd.Context(), text, opts...)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runResult{
				BatchID:  batchID,
				Outcomes: outcomes,
				Verdict:  verdict.Fold(shipmentID, outcomes),
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", `read the document from a file, "-" for stdin`)
	cmd.Flags().StringSliceVar(&agentIDs, "agents", nil, "comma separated agent ids to run instead of the whole panel")
	cmd.Flags().StringVar(&shipmentID, "shipment", "", "shipment id to label the verdict with")
	return cmd
}

func readDocument(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("give the document as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file != "" && file != "-":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read document from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
}
