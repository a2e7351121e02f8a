package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TaskStatus is the outcome of one work item.
type TaskStatus string

const (
	StatusOK      TaskStatus = "ok"
	StatusFailed  TaskStatus = "failed"
	StatusSkipped TaskStatus = "skipped"
)

// TaskResult is the collected outcome of one work item.
type TaskResult struct {
	Item     WorkItem
	Status   TaskStatus
	Path     string
	Trials   int
	Err      error
	Duration time.Duration
}

// TaskRecord is the journaled form of a TaskResult.
type TaskRecord struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	Subject    string     `json:"subject" yaml:"subject"`
	Cell       string     `json:"cell" yaml:"cell"`
	Status     TaskStatus `json:"status" yaml:"status"`
	Kind       string     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	Trials     int        `json:"trials" yaml:"trials"`
	Path       string     `json:"path,omitempty" yaml:"path,omitempty"`
	DurationMS int64      `json:"duration_ms" yaml:"duration_ms"`
	FinishedAt time.Time  `json:"finished_at" yaml:"finished_at"`
}

// TaskJournal durably records task outcomes.
type TaskJournal interface {
	Record(rec TaskRecord) error
}

// Scheduler fans work items out over a fixed-size worker pool. Items share
// nothing mutable: each reads its own archive and writes its own bundle.
type Scheduler struct {
	Estimator   Estimator
	Store       CellStore
	Journal     TaskJournal
	Factors     []Factor
	Bands       BandTable
	Metrics     []string
	Workers     int
	TaskTimeout time.Duration
	Overwrite   bool
	RunID       string
	Logger      *slog.Logger
}

// Run executes every item of the plan and returns one result per item, in
// plan order. It blocks until all items have finished or failed; a failing
// item never cancels its siblings. Cancelling ctx stops items that have not
// started yet and leaves already-written bundles intact.
func (s *Scheduler) Run(ctx context.Context, plan Plan) []TaskResult {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}

	s.Logger.Info("compute started",
		slog.String("run_id", s.RunID),
		slog.Int("items", len(plan.Items)),
		slog.Int("workers", workers),
		slog.Int("edges", len(plan.Edges)),
	)

	results := make([]TaskResult, len(plan.Items))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range plan.Items {
		g.Go(func() error {
			results[i] = s.runItem(ctx, plan, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) runItem(ctx context.Context, plan Plan, item WorkItem) TaskResult {
	start := time.Now()
	res := TaskResult{Item: item}
	log := s.Logger.With(
		slog.String("run_id", s.RunID),
		slog.String("subject", item.SubjectID),
		slog.String("cell", item.Cell.Name()),
	)

	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusFailed, err
		return s.finish(log, res, start)
	}

	if !s.Overwrite && s.Store.Exists(item.SubjectID, item.Cell) {
		b, err := s.Store.Load(item.SubjectID, item.Cell)
		if err == nil && b.Edges.Equal(plan.Edges) && slices.Equal(b.MetricNames(), s.Metrics) && b.Bands.Equal(s.Bands) {
			res.Status, res.Path, res.Trials = StatusSkipped, s.Store.Path(item.SubjectID, item.Cell), b.Trials
			return s.finish(log, res, start)
		}
		log.Warn("existing bundle unusable, recomputing", slog.Any("error", err))
	}

	taskCtx := ctx
	if s.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, s.TaskTimeout)
		defer cancel()
	}

	bundle, err := s.computeWithBudget(taskCtx, plan, item)
	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &TaskTimeoutError{Subject: item.SubjectID, Cell: item.Cell.Name(), Budget: s.TaskTimeout}
		}
		return s.fail(log, res, start, err)
	}

	path, err := s.Store.Save(bundle)
	if err != nil {
		return s.fail(log, res, start, err)
	}
	res.Status, res.Path, res.Trials = StatusOK, path, bundle.Trials
	return s.finish(log, res, start)
}

// fail records a failed recompute. Any bundle left from an earlier run is
// removed so that assembly reports the cell as missing instead of reusing it.
func (s *Scheduler) fail(log *slog.Logger, res TaskResult, start time.Time, err error) TaskResult {
	res.Status, res.Err = StatusFailed, err
	if rmErr := s.Store.Remove(res.Item.SubjectID, res.Item.Cell); rmErr != nil {
		log.Warn("stale bundle not removed", slog.Any("error", rmErr))
	}
	return s.finish(log, res, start)
}

type computeOutcome struct {
	bundle CellBundle
	err    error
}

// computeWithBudget loads the item's archive and aggregates its cell. It
// returns as soon as ctx is done, even if the estimator ignores ctx.
func (s *Scheduler) computeWithBudget(ctx context.Context, plan Plan, item WorkItem) (CellBundle, error) {
	done := make(chan computeOutcome, 1)
	go func() {
		b, err := s.compute(ctx, plan, item)
		done <- computeOutcome{bundle: b, err: err}
	}()
	select {
	case out := <-done:
		return out.bundle, out.err
	case <-ctx.Done():
		return CellBundle{}, ctx.Err()
	}
}

func (s *Scheduler) compute(ctx context.Context, plan Plan, item WorkItem) (CellBundle, error) {
	series, err := LoadRegionTimeSeries(item.ArchivePath)
	if err != nil {
		return CellBundle{}, err
	}
	if series.ID != item.SubjectID {
		return CellBundle{}, &ConfigurationError{Field: "input", Reason: fmt.Sprintf("archive %s holds subject %s, want %s", item.ArchivePath, series.ID, item.SubjectID)}
	}
	if !slices.Equal(series.Labels, plan.Labels) {
		return CellBundle{}, &EstimationError{Subject: item.SubjectID, Cell: item.Cell.Name(), Err: errors.New("region labels differ from the run's shared labels")}
	}

	cells, err := PartitionConditions(series.FactorTable(), s.Factors)
	if err != nil {
		return CellBundle{}, err
	}
	idx := slices.IndexFunc(cells, func(c ConditionCell) bool { return c.Descriptor.Equal(item.Cell) })
	if idx < 0 {
		return CellBundle{}, &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("cell %s is not part of the factor design", item.Cell.Name())}
	}

	return AggregateCell(ctx, s.Estimator, CellRequest{
		Series:  series,
		Cell:    cells[idx],
		Edges:   plan.Edges,
		Bands:   s.Bands,
		Metrics: s.Metrics,
	})
}

func (s *Scheduler) finish(log *slog.Logger, res TaskResult, start time.Time) TaskResult {
	res.Duration = time.Since(start)
	kind := ErrorKind(res.Err)
	if res.Err != nil && errors.Is(res.Err, context.Canceled) {
		kind = "canceled"
	}

	cellTasksTotal.WithLabelValues(string(res.Status), kind).Inc()
	cellTaskDuration.Observe(res.Duration.Seconds())

	switch res.Status {
	case StatusFailed:
		log.Error("cell failed",
			slog.String("kind", kind),
			slog.Any("error", res.Err),
			slog.Duration("duration", res.Duration),
		)
	case StatusSkipped:
		log.Info("cell skipped, bundle exists", slog.String("path", res.Path))
	default:
		log.Info("cell done",
			slog.Int("trials", res.Trials),
			slog.String("path", res.Path),
			slog.Duration("duration", res.Duration),
		)
	}

	if s.Journal != nil {
		rec := TaskRecord{
			RunID:      s.RunID,
			Subject:    res.Item.SubjectID,
			Cell:       res.Item.Cell.Name(),
			Status:     res.Status,
			Kind:       kind,
			Trials:     res.Trials,
			Path:       res.Path,
			DurationMS: res.Duration.Milliseconds(),
			FinishedAt: time.Now().UTC(),
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if err := s.Journal.Record(rec); err != nil {
			log.Warn("journal write failed", slog.Any("error", err))
		}
	}
	return res
}

// Summarize counts results by status.
func Summarize(results []TaskResult) (ok, skipped, failed int) {
	for _, r := range results {
		switch r.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	return ok, skipped, failed
}
