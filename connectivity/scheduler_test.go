package connectivity_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/connectivitytest"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/spectral"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/logging"
)

type memJournal struct {
	mu   sync.Mutex
	recs []connectivity.TaskRecord
}

func (m *memJournal) Record(rec connectivity.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func planFor(t *testing.T, subjects ...connectivity.RegionTimeSeries) connectivity.Plan {
	t.Helper()
	dir := t.TempDir()
	_, err := connectivitytest.WriteSubjects(dir, subjects...)
	require.NoError(t, err)
	archives, err := connectivity.ListSubjectArchives(dir)
	require.NoError(t, err)
	plan, err := connectivity.BuildPlan(archives, connectivity.DefaultFactors())
	require.NoError(t, err)
	return plan
}

func newScheduler(t *testing.T, est connectivity.Estimator) *connectivity.Scheduler {
	t.Helper()
	return &connectivity.Scheduler{
		Estimator: est,
		Store:     connectivity.CellStore{Dir: t.TempDir()},
		Factors:   connectivity.DefaultFactors(),
		Bands:     connectivity.DefaultBands(),
		Metrics:   connectivity.DefaultMetrics(),
		Workers:   4,
		Logger:    logging.Discard(),
	}
}

func TestScheduler_FailureIsIsolated(t *testing.T) {
	t.Parallel()

	s1 := connectivitytest.Subject("s01", 4, 40, 200, connectivitytest.BalancedTrialInfo(2))
	s2 := connectivitytest.Subject("s02", 4, 40, 200, connectivitytest.BalancedTrialInfo(2))
	s3 := connectivitytest.Subject("s03", 4, 40, 200, connectivitytest.BalancedTrialInfo(2))
	plan := planFor(t, s1, s2, s3)

	bad := connectivitytest.FirstSamples(s2)
	est := &connectivitytest.FailingEstimator{
		Fail: func(req connectivity.EstimateRequest) bool { return bad[req.Data[0][0][0]] },
		Next: &connectivitytest.ConstantEstimator{Value: 0.5},
	}
	sched := newScheduler(t, est)
	journal := &memJournal{}
	sched.Journal = journal

	results := sched.Run(context.Background(), plan)
	require.Len(t, results, 12)

	ok, skipped, failed := connectivity.Summarize(results)
	assert.Equal(t, 8, ok)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 4, failed)

	for i, r := range results {
		assert.Equal(t, plan.Items[i], r.Item, "results follow plan order")
		exists := sched.Store.Exists(r.Item.SubjectID, r.Item.Cell)
		if r.Item.SubjectID == "s02" {
			assert.Equal(t, connectivity.StatusFailed, r.Status)
			assert.Equal(t, connectivity.KindEstimation, connectivity.ErrorKind(r.Err))
			assert.ErrorIs(t, r.Err, connectivitytest.ErrInjected)
			assert.False(t, exists)
			continue
		}
		assert.Equal(t, connectivity.StatusOK, r.Status)
		assert.Equal(t, 2, r.Trials)
		assert.True(t, exists)
	}

	require.Len(t, journal.recs, 12)
	for _, rec := range journal.recs {
		assert.Equal(t, sched.RunID, rec.RunID)
		assert.NotEmpty(t, rec.RunID)
		if rec.Status == connectivity.StatusFailed {
			assert.Equal(t, connectivity.KindEstimation, rec.Kind)
			assert.Contains(t, rec.Error, "injected")
		}
	}
}

func TestScheduler_EmptyCellLeavesNoBundle(t *testing.T) {
	t.Parallel()

	// No eyes-closed session-2 epochs at all.
	ts := connectivitytest.Subject("s01", 3, 40, 200, [][]int{{1, 1}, {1, 2}, {0, 1}, {1, 1}})
	plan := planFor(t, ts)
	sched := newScheduler(t, &connectivitytest.ConstantEstimator{Value: 0.5})

	results := sched.Run(context.Background(), plan)
	require.Len(t, results, 4)

	for _, r := range results {
		if r.Item.Cell.Name() == "closed_2" {
			var empty *connectivity.EmptyCellError
			require.ErrorAs(t, r.Err, &empty)
			assert.False(t, sched.Store.Exists("s01", r.Item.Cell))
			continue
		}
		require.NoError(t, r.Err)
	}

	order, err := connectivity.ResolveCellOrder(connectivity.DefaultFactors(), connectivity.DefaultCellOrder())
	require.NoError(t, err)
	_, err = connectivity.AssembleSubject(sched.Store, "s01", order)
	var missing *connectivity.MissingCellError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "closed_2", missing.Cell)
}

func TestScheduler_FailedRecomputeRemovesOldBundle(t *testing.T) {
	t.Parallel()

	ts := connectivitytest.Subject("s01", 3, 40, 200, connectivitytest.BalancedTrialInfo(1))
	plan := planFor(t, ts)
	sched := newScheduler(t, &connectivitytest.ConstantEstimator{Value: 0.5})
	sched.Overwrite = true

	results := sched.Run(context.Background(), plan)
	for _, r := range results {
		require.NoError(t, r.Err)
	}

	// Same subject, recoded so that closed_2 selects nothing.
	recoded := connectivitytest.Subject("s01", 3, 40, 200, [][]int{{1, 1}, {1, 2}, {0, 1}, {1, 1}})
	_, err := connectivitytest.WriteSubjects(filepath.Dir(plan.Items[0].ArchivePath), recoded)
	require.NoError(t, err)

	results = sched.Run(context.Background(), plan)
	for _, r := range results {
		if r.Item.Cell.Name() != "closed_2" {
			require.NoError(t, r.Err)
			continue
		}
		var empty *connectivity.EmptyCellError
		require.ErrorAs(t, r.Err, &empty)
		assert.False(t, sched.Store.Exists("s01", r.Item.Cell))
	}

	order, err := connectivity.ResolveCellOrder(connectivity.DefaultFactors(), connectivity.DefaultCellOrder())
	require.NoError(t, err)
	_, err = connectivity.AssembleSubject(sched.Store, "s01", order)
	var missing *connectivity.MissingCellError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "closed_2", missing.Cell)
}

func TestScheduler_RejectedResumeFailureRemovesOldBundle(t *testing.T) {
	t.Parallel()

	ts := connectivitytest.Subject("s01", 3, 40, 200, connectivitytest.BalancedTrialInfo(1))
	plan := planFor(t, ts)
	sched := newScheduler(t, &connectivitytest.ConstantEstimator{Value: 0.5})
	for _, r := range sched.Run(context.Background(), plan) {
		require.NoError(t, r.Err)
	}

	// A different metric set rejects every existing bundle; the recompute fails.
	sched.Metrics = []string{"coh"}
	sched.Estimator = &connectivitytest.FailingEstimator{
		Fail: func(connectivity.EstimateRequest) bool { return true },
		Next: &connectivitytest.ConstantEstimator{Value: 0.5},
	}
	for _, r := range sched.Run(context.Background(), plan) {
		assert.Equal(t, connectivity.StatusFailed, r.Status)
		assert.False(t, sched.Store.Exists("s01", r.Item.Cell), r.Item.Cell.Name())
	}
}

func TestScheduler_TimeoutEvenWhenEstimatorIgnoresContext(t *testing.T) {
	t.Parallel()

	ts := connectivitytest.Subject("s01", 3, 40, 200, connectivitytest.BalancedTrialInfo(1))
	plan := planFor(t, ts)
	est := &connectivitytest.BlockingEstimator{Release: make(chan struct{}), IgnoreContext: true}
	t.Cleanup(func() { close(est.Release) })

	sched := newScheduler(t, est)
	sched.TaskTimeout = 50 * time.Millisecond

	start := time.Now()
	results := sched.Run(context.Background(), plan)
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, r := range results {
		var timeout *connectivity.TaskTimeoutError
		require.ErrorAs(t, r.Err, &timeout)
		assert.Equal(t, 50*time.Millisecond, timeout.Budget)
		assert.Equal(t, connectivity.KindTimeout, connectivity.ErrorKind(r.Err))
		assert.False(t, sched.Store.Exists("s01", r.Item.Cell))
	}
}

func TestScheduler_ResumeSkipsValidBundles(t *testing.T) {
	t.Parallel()

	ts := connectivitytest.Subject("s01", 3, 40, 200, connectivitytest.BalancedTrialInfo(1))
	plan := planFor(t, ts)
	first := &connectivitytest.ConstantEstimator{Value: 0.5}
	sched := newScheduler(t, first)
	sched.Run(context.Background(), plan)
	require.EqualValues(t, 4, first.Calls.Load())

	second := &connectivitytest.ConstantEstimator{Value: 0.9}
	sched.Estimator = second
	results := sched.Run(context.Background(), plan)
	_, skipped, _ := connectivity.Summarize(results)
	assert.Equal(t, 4, skipped)
	assert.Zero(t, second.Calls.Load())

	sched.Overwrite = true
	results = sched.Run(context.Background(), plan)
	ok, _, _ := connectivity.Summarize(results)
	assert.Equal(t, 4, ok)
	b, err := sched.Store.Load("s01", plan.Items[0].Cell)
	require.NoError(t, err)
	v, _ := b.Metric("coh")
	assert.Equal(t, 0.9, v[0][0])
}

func TestScheduler_ResumeRecomputesIncompatibleBundle(t *testing.T) {
	t.Parallel()

	ts := connectivitytest.Subject("s01", 3, 40, 200, connectivitytest.BalancedTrialInfo(1))
	plan := planFor(t, ts)
	sched := newScheduler(t, &connectivitytest.ConstantEstimator{Value: 0.5})
	sched.Run(context.Background(), plan)

	est := &connectivitytest.ConstantEstimator{Value: 0.5}
	sched.Estimator = est
	sched.Metrics = []string{"coh"}
	results := sched.Run(context.Background(), plan)
	ok, skipped, _ := connectivity.Summarize(results)
	assert.Equal(t, 4, ok)
	assert.Zero(t, skipped)
	assert.EqualValues(t, 4, est.Calls.Load())
}

func TestScheduler_CancelledContext(t *testing.T) {
	t.Parallel()

	ts := connectivitytest.Subject("s01", 3, 40, 200, connectivitytest.BalancedTrialInfo(1))
	plan := planFor(t, ts)
	sched := newScheduler(t, &connectivitytest.ConstantEstimator{Value: 0.5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := sched.Run(ctx, plan)
	for _, r := range results {
		assert.Equal(t, connectivity.StatusFailed, r.Status)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	_, err := os.Stat(sched.Store.Path("s01", plan.Items[0].Cell))
	assert.True(t, os.IsNotExist(err))
}

func TestScheduler_ParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	s1 := connectivitytest.Subject("s01", 4, 400, 200, connectivitytest.BalancedTrialInfo(2))
	s2 := connectivitytest.Subject("s02", 4, 400, 200, connectivitytest.BalancedTrialInfo(3))
	plan := planFor(t, s1, s2)

	seq := newScheduler(t, spectral.New(1, 1))
	seq.Workers = 1
	par := newScheduler(t, spectral.New(1, 1))
	par.Workers = 8

	for _, r := range seq.Run(context.Background(), plan) {
		require.NoError(t, r.Err)
	}
	for _, r := range par.Run(context.Background(), plan) {
		require.NoError(t, r.Err)
	}
	for _, item := range plan.Items {
		a, err := os.ReadFile(seq.Store.Path(item.SubjectID, item.Cell))
		require.NoError(t, err)
		b, err := os.ReadFile(par.Store.Path(item.SubjectID, item.Cell))
		require.NoError(t, err)
		assert.Equal(t, a, b, "%s %s", item.SubjectID, item.Cell.Name())
	}
}
