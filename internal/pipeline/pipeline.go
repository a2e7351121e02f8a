// Package pipeline wires the connectivity stages into runnable steps shared
// by the command-line tools: compute (per-cell bundles), assemble
// (per-subject exports) and schemas.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/fileutils"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/journal"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/schema"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/spectral"
)

const (
	StageCompute  = "compute"
	StageAssemble = "assemble"
	StageSchemas  = "schemas"

	ReportFile = "run_report.yaml"

	// SchemaDir is the export_dir subdirectory holding the JSON Schemas.
	SchemaDir = "schemas"
)

// Stages lists the pipeline stages in execution order.
func Stages() []string { return []string{StageCompute, StageAssemble, StageSchemas} }

// SelectStages applies --only-stage / --from-stage.
func SelectStages(only, from string) ([]string, error) {
	all := Stages()
	only = strings.ToLower(strings.TrimSpace(only))
	from = strings.ToLower(strings.TrimSpace(from))
	switch {
	case only != "" && from != "":
		return nil, &connectivity.ConfigurationError{Field: "stage", Reason: "use only one of --only-stage or --from-stage"}
	case only != "":
		if !slices.Contains(all, only) {
			return nil, &connectivity.ConfigurationError{Field: "only_stage", Reason: fmt.Sprintf("unknown stage %q", only)}
		}
		return []string{only}, nil
	case from != "":
		i := slices.Index(all, from)
		if i < 0 {
			return nil, &connectivity.ConfigurationError{Field: "from_stage", Reason: fmt.Sprintf("unknown stage %q", from)}
		}
		return all[i:], nil
	}
	return all, nil
}

// Failure is one failed task or subject in the run report.
type Failure struct {
	Subject string `yaml:"subject"`
	Cell    string `yaml:"cell,omitempty"`
	Kind    string `yaml:"kind"`
	Error   string `yaml:"error"`
}

type ComputeSummary struct {
	Subjects int       `yaml:"subjects"`
	Items    int       `yaml:"items"`
	OK       int       `yaml:"ok"`
	Skipped  int       `yaml:"skipped"`
	Failed   int       `yaml:"failed"`
	Index    string    `yaml:"index"`
	Failures []Failure `yaml:"failures,omitempty"`
}

type AssembleSummary struct {
	Subjects int       `yaml:"subjects"`
	Exported int       `yaml:"exported"`
	Failed   int       `yaml:"failed"`
	Failures []Failure `yaml:"failures,omitempty"`
}

// Report is written to <bundle_dir>/run_report.yaml after every run.
type Report struct {
	RunID      string                 `yaml:"run_id"`
	StartedAt  time.Time              `yaml:"started_at"`
	FinishedAt time.Time              `yaml:"finished_at"`
	Stages     []string               `yaml:"stages"`
	Config     connectivity.RunConfig `yaml:"config"`
	Compute    *ComputeSummary        `yaml:"compute,omitempty"`
	Assemble   *AssembleSummary       `yaml:"assemble,omitempty"`
	Schemas    []string               `yaml:"schemas,omitempty"`
}

// Failed reports whether any stage recorded a failure.
func (r Report) Failed() bool {
	return (r.Compute != nil && r.Compute.Failed > 0) || (r.Assemble != nil && r.Assemble.Failed > 0)
}

// Options are the per-invocation inputs beyond RunConfig.
type Options struct {
	RunID string

	// Subjects restricts compute and assemble to these ids; empty means all.
	Subjects []string

	// Estimator overrides the reference spectral estimator.
	Estimator connectivity.Estimator

	Logger *slog.Logger
}

func (o *Options) defaults(cfg connectivity.RunConfig) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Estimator == nil {
		o.Estimator = spectral.New(cfg.WindowSeconds, cfg.FreqStep)
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
}

// Compute partitions every selected subject archive into cells, runs the
// scheduler and rebuilds the bundle index. Per-task failures are reported in
// the summary; only setup problems return an error.
func Compute(ctx context.Context, cfg connectivity.RunConfig, opts Options) (*ComputeSummary, error) {
	opts.defaults(cfg)

	archives, err := connectivity.ListSubjectArchives(cfg.InputDir)
	if err != nil {
		return nil, err
	}
	plan, err := connectivity.BuildPlan(archives, cfg.Factors)
	if err != nil {
		return nil, err
	}
	plan = plan.ForSubjects(opts.Subjects)
	if len(plan.Items) == 0 {
		return nil, &connectivity.ConfigurationError{Field: "subject", Reason: fmt.Sprintf("no archive holds subjects %v", opts.Subjects)}
	}

	var jr *journal.Journal
	if cfg.JournalDir != "" {
		jc := journal.DefaultConfig(cfg.JournalDir)
		jc.Logger = opts.Logger.With(slog.String("component", "journal"))
		jr, err = journal.Open(jc)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := jr.Close(); err != nil {
				opts.Logger.Warn("journal close failed", slog.Any("error", err))
			}
		}()
	}

	sched := &connectivity.Scheduler{
		Estimator:   opts.Estimator,
		Store:       cfg.CellStore(),
		Factors:     cfg.Factors,
		Bands:       cfg.Bands,
		Metrics:     cfg.Metrics,
		Workers:     cfg.Workers,
		TaskTimeout: cfg.TaskTimeout,
		Overwrite:   cfg.Overwrite,
		RunID:       opts.RunID,
		Logger:      opts.Logger,
	}
	if jr != nil {
		sched.Journal = jr
	}
	results := sched.Run(ctx, plan)

	sum := &ComputeSummary{Subjects: len(plan.Subjects()), Items: len(results)}
	sum.OK, sum.Skipped, sum.Failed = connectivity.Summarize(results)
	for _, r := range results {
		if r.Status != connectivity.StatusFailed {
			continue
		}
		sum.Failures = append(sum.Failures, Failure{
			Subject: r.Item.SubjectID,
			Cell:    r.Item.Cell.Name(),
			Kind:    connectivity.ErrorKind(r.Err),
			Error:   errString(r.Err),
		})
	}

	if _, err := cfg.CellStore().RebuildIndex(); err != nil {
		return sum, err
	}
	sum.Index = filepath.Join(cfg.BundleDir, "index.jsonl")
	return sum, nil
}

// Assemble exports every selected subject found in the bundle directory.
func Assemble(cfg connectivity.RunConfig, opts Options) (*AssembleSummary, error) {
	opts.defaults(cfg)

	order, err := cfg.ResolvedCellOrder()
	if err != nil {
		return nil, err
	}
	subjects := opts.Subjects
	if len(subjects) == 0 {
		subjects, err = cfg.CellStore().Subjects()
		if err != nil {
			return nil, err
		}
	}

	a := &connectivity.Assembler{
		Store:     cfg.CellStore(),
		ExportDir: cfg.ExportDir,
		Order:     order,
		Pretty:    cfg.Pretty,
		Logger:    opts.Logger,
	}
	sum := &AssembleSummary{Subjects: len(subjects)}
	for _, r := range a.Run(subjects) {
		if r.Err != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{Subject: r.SubjectID, Kind: connectivity.ErrorKind(r.Err), Error: r.Err.Error()})
			continue
		}
		sum.Exported++
	}
	return sum, nil
}

// Run executes the given stages in order and returns the report. It stops
// at the first stage that cannot run at all; per-task failures do not stop
// later stages.
func Run(ctx context.Context, cfg connectivity.RunConfig, stages []string, opts Options) (Report, error) {
	opts.defaults(cfg)
	rep := Report{RunID: opts.RunID, StartedAt: time.Now().UTC(), Stages: stages, Config: cfg}
	done := func(err error) (Report, error) {
		rep.FinishedAt = time.Now().UTC()
		return rep, err
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return done(err)
		}
		opts.Logger.Info("stage started", slog.String("stage", stage))
		switch stage {
		case StageCompute:
			sum, err := Compute(ctx, cfg, opts)
			rep.Compute = sum
			if err != nil {
				return done(fmt.Errorf("compute: %w", err))
			}
		case StageAssemble:
			sum, err := Assemble(cfg, opts)
			rep.Assemble = sum
			if err != nil {
				return done(fmt.Errorf("assemble: %w", err))
			}
		case StageSchemas:
			paths, err := schema.WriteSchemas(filepath.Join(cfg.ExportDir, SchemaDir))
			if err != nil {
				return done(fmt.Errorf("schemas: %w", err))
			}
			rep.Schemas = paths
		default:
			return done(&connectivity.ConfigurationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", stage)})
		}
	}
	return done(nil)
}

// WriteReport writes rep as YAML to <bundle_dir>/run_report.yaml.
func WriteReport(dir string, rep Report) (string, error) {
	b, err := yaml.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("WriteReport: marshal: %w", err)
	}
	path := filepath.Join(dir, ReportFile)
	if err := fileutils.WriteFileAtomicSameDir(path, b, 0o644); err != nil {
		return "", fmt.Errorf("WriteReport: %w", err)
	}
	return path, nil
}

// LoadReport reads a run report.
func LoadReport(path string) (Report, error) {
	var rep Report
	b, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("LoadReport: %w", err)
	}
	if err := yaml.Unmarshal(b, &rep); err != nil {
		return Report{}, fmt.Errorf("LoadReport: %w", err)
	}
	return rep, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
