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
	return cli.Execute(cmd.Context(), cfg, []string{pipeline.StageAssemble}, pipeline.Options{
		Subjects: opts.subjects,
		Logger:   log,
	}, cmd.OutOrStdout())
}
