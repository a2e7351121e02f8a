package main

import (
	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/config"
)

type options struct {
	subjects []string
}

func newCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "connectivity-assemble",
		Short: "Stack per-cell bundles into one export file per subject",
		Long: `Loads the bundles of every subject found in the bundle directory (or the
subjects given with --subject), checks that they agree on labels, edges,
bands and metrics, and writes <subject>_connectivity_data.json with
[condition, edge, freqband] arrays in the configured cell order. A subject
with a missing or inconsistent cell is reported and skipped.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringSliceVar(&opts.subjects, "subject", nil, "only export these subject ids")
	return cmd
}
