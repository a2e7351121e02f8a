// Package cli holds the start-up and shutdown steps shared by the
// connectivity-* commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/config"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/logging"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/pipeline"
)

// ErrRunFailed marks a run that completed but recorded failed cells or subjects.
var ErrRunFailed = errors.New("run finished with failures")

// Setup resolves the run configuration from cmd's flags and builds the logger.
func Setup(cmd *cobra.Command) (connectivity.RunConfig, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return connectivity.RunConfig{}, nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	return cfg, log, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the given stages, writes the run report and metrics textfile,
// and prints one key=value summary line per stage to out.
func Execute(ctx context.Context, cfg connectivity.RunConfig, stages []string, opts pipeline.Options, out io.Writer) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	rep, runErr := pipeline.Run(ctx, cfg, stages, opts)

	if rep.Compute != nil {
		fmt.Fprintf(out, "cells_ok=%d cells_skipped=%d cells_failed=%d bundle_dir=%s index=%s\n",
			rep.Compute.OK, rep.Compute.Skipped, rep.Compute.Failed, cfg.BundleDir, rep.Compute.Index)
	}
	if rep.Assemble != nil {
		fmt.Fprintf(out, "subjects_exported=%d subjects_failed=%d export_dir=%s\n",
			rep.Assemble.Exported, rep.Assemble.Failed, cfg.ExportDir)
	}
	for _, p := range rep.Schemas {
		fmt.Fprintln(out, "schema:", p)
	}

	reportPath, err := pipeline.WriteReport(cfg.BundleDir, rep)
	if err != nil {
		opts.Logger.Error("run report not written", slog.Any("error", err))
	} else {
		fmt.Fprintf(out, "run_id=%s report=%s\n", rep.RunID, reportPath)
	}
	if err := connectivity.WriteMetricsTextfile(cfg.MetricsFile); err != nil {
		opts.Logger.Warn("metrics textfile not written", slog.String("path", cfg.MetricsFile), slog.Any("error", err))
	}

	if runErr != nil {
		return runErr
	}
	if rep.Failed() {
		return ErrRunFailed
	}
	return nil
}

// ExitCode maps a command error to a process exit status: 2 for
// configuration problems, 1 for any other failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *connectivity.ConfigurationError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

// Main executes cmd and exits with ExitCode.
func Main(cmd *cobra.Command) {
	err := cmd.Execute()
	if err != nil && !errors.Is(err, ErrRunFailed) {
		fmt.Fprintln(os.Stderr, err.Error())
	}
	os.Exit(ExitCode(err))
}
