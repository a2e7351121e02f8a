package main

import (
	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/cli"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/pipeline"
)

func main() {
	cli.Main(newCommand())
}

func run(cmd *cobra.Command, opts options) error {
	cfg, log, err := cli.Setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	return cli.Execute(ctx, cfg, []string{pipeline.StageCompute}, pipeline.Options{
		Subjects: opts.subjects,
		Logger:   log,
	}, cmd.OutOrStdout())
}
