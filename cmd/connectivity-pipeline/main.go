package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/cli"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/config"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/pipeline"
)

func main() {
	cli.Main(newCommand())
}

func run(cmd *cobra.Command, opts options) error {
	stages, err := pipeline.SelectStages(opts.onlyStage, opts.fromStage)
	if err != nil {
		return err
	}
	cfg, log, err := cli.Setup(cmd)
	if err != nil {
		return err
	}
	if opts.printConfig {
		return config.WriteYAML(cmd.OutOrStdout(), cfg)
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	log.Info("pipeline started", slog.Any("stages", stages))
	return cli.Execute(ctx, cfg, stages, pipeline.Options{
		Subjects: opts.subjects,
		Logger:   log,
	}, cmd.OutOrStdout())
}
