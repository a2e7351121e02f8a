package main

import (
	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/config"
)

type options struct {
	subjects    []string
	fromStage   string
	onlyStage   string
	printConfig bool
}

func newCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "connectivity-pipeline",
		Short: "Run compute, assemble and schemas in one process",
		Long: `Runs the connectivity stages in order:

  compute   per-cell bundles from subject archives
  assemble  per-subject export files
  schemas   JSON Schemas for bundles and exports

Use --from-stage to resume at a stage or --only-stage to run a single one.
Configuration comes from defaults, --config (or VSRS_CONFIG), VSRS_*
environment variables and flags, in increasing precedence.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringSliceVar(&opts.subjects, "subject", nil, "only process these subject ids")
	cmd.Flags().StringVar(&opts.fromStage, "from-stage", "", "start at stage: compute|assemble|schemas")
	cmd.Flags().StringVar(&opts.onlyStage, "only-stage", "", "run only one stage: compute|assemble|schemas")
	cmd.Flags().BoolVar(&opts.printConfig, "print-config", false, "print the resolved configuration as YAML and exit")
	return cmd
}
