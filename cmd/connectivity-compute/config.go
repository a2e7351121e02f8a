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
		Use:   "connectivity-compute",
		Short: "Compute per-cell connectivity bundles from subject source-space archives",
		Long: `Reads every <subject>_source_data.json in the input directory, splits each
subject's epochs into eyes x session condition cells and writes one
trial-averaged wPLI/coherence bundle per (subject, cell). Existing valid
bundles are skipped unless --overwrite is given.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringSliceVar(&opts.subjects, "subject", nil, "only process these subject ids")
	return cmd
}
