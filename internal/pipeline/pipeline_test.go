package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/connectivitytest"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/logging"
)

func TestSelectStages(t *testing.T) {
	t.Parallel()

	got, err := SelectStages("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"compute", "assemble", "schemas"}, got)

	got, err = SelectStages("", "Assemble")
	require.NoError(t, err)
	assert.Equal(t, []string{"assemble", "schemas"}, got)

	got, err = SelectStages("compute", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"compute"}, got)

	for _, c := range [][2]string{{"compute", "assemble"}, {"split", ""}, {"", "pack"}} {
		_, err := SelectStages(c[0], c[1])
		var cfgErr *connectivity.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr, "%v", c)
	}
}

func testConfig(t *testing.T) connectivity.RunConfig {
	t.Helper()
	root := t.TempDir()
	cfg := connectivity.DefaultRunConfig()
	cfg.InputDir = filepath.Join(root, "in")
	cfg.BundleDir = filepath.Join(root, "bundles")
	cfg.ExportDir = filepath.Join(root, "exports")
	cfg.JournalDir = ""
	cfg.Workers = 3
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRun_ComputeAssembleSchemas(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	_, err := connectivitytest.WriteSubjects(cfg.InputDir,
		connectivitytest.Subject("s01", 4, 20, 200, connectivitytest.BalancedTrialInfo(3)),
		connectivitytest.Subject("s02", 4, 20, 200, connectivitytest.BalancedTrialInfo(1)),
		// s03 never recorded eyes-closed session 2.
		connectivitytest.Subject("s03", 4, 20, 200, [][]int{{1, 1}, {1, 2}, {0, 1}}),
	)
	require.NoError(t, err)

	rep, err := Run(context.Background(), cfg, Stages(), Options{
		RunID:     "run-1",
		Estimator: &connectivitytest.ConstantEstimator{Value: 0.5},
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	assert.True(t, rep.Failed())
	assert.Equal(t, "run-1", rep.RunID)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))

	require.NotNil(t, rep.Compute)
	assert.Equal(t, 3, rep.Compute.Subjects)
	assert.Equal(t, 12, rep.Compute.Items)
	assert.Equal(t, 11, rep.Compute.OK)
	assert.Equal(t, 1, rep.Compute.Failed)
	assert.Equal(t, []Failure{{Subject: "s03", Cell: "closed_2", Kind: connectivity.KindEmptyCell, Error: rep.Compute.Failures[0].Error}}, rep.Compute.Failures)

	require.NotNil(t, rep.Assemble)
	assert.Equal(t, 3, rep.Assemble.Subjects)
	assert.Equal(t, 2, rep.Assemble.Exported)
	require.Len(t, rep.Assemble.Failures, 1)
	assert.Equal(t, "s03", rep.Assemble.Failures[0].Subject)
	assert.Equal(t, connectivity.KindMissingCell, rep.Assemble.Failures[0].Kind)
	assert.Contains(t, rep.Assemble.Failures[0].Error, "closed_2")

	assert.Len(t, rep.Schemas, 2)
	assert.FileExists(t, filepath.Join(cfg.BundleDir, "index.jsonl"))

	rec, err := connectivity.LoadExport(connectivity.ExportPath(cfg.ExportDir, "s01"))
	require.NoError(t, err)
	for _, cond := range rec.Metrics["coh"] {
		for _, edge := range cond {
			for _, v := range edge {
				assert.Equal(t, 0.5, v)
			}
		}
	}
}

func TestRun_SubjectFilter(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	_, err := connectivitytest.WriteSubjects(cfg.InputDir,
		connectivitytest.Subject("s01", 3, 20, 200, connectivitytest.BalancedTrialInfo(1)),
		connectivitytest.Subject("s02", 3, 20, 200, connectivitytest.BalancedTrialInfo(1)),
	)
	require.NoError(t, err)

	sum, err := Compute(context.Background(), cfg, Options{
		Subjects:  []string{"s02"},
		Estimator: &connectivitytest.ConstantEstimator{Value: 0.1},
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Subjects)
	assert.Equal(t, 4, sum.OK)

	subjects, err := cfg.CellStore().Subjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"s02"}, subjects)
}

func TestCompute_SubjectFilterUsesArchiveID(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	paths, err := connectivitytest.WriteSubjects(cfg.InputDir,
		connectivitytest.Subject("vp07", 3, 20, 200, connectivitytest.BalancedTrialInfo(1)),
	)
	require.NoError(t, err)
	require.NoError(t, os.Rename(paths[0], filepath.Join(cfg.InputDir, "recording_a"+connectivity.ArchiveSuffix)))

	sum, err := Compute(context.Background(), cfg, Options{
		Subjects:  []string{"vp07"},
		Estimator: &connectivitytest.ConstantEstimator{Value: 0.1},
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Subjects)
	assert.Equal(t, 4, sum.OK)

	_, err = Compute(context.Background(), cfg, Options{
		Subjects:  []string{"recording_a"},
		Estimator: &connectivitytest.ConstantEstimator{Value: 0.1},
		Logger:    logging.Discard(),
	})
	var cfgErr *connectivity.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "subject", cfgErr.Field)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := Run(ctx, testConfig(t), Stages(), Options{Logger: logging.Discard()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rep.Compute)
}

func TestRun_MissingInputIsConfigurationError(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), testConfig(t), []string{StageCompute}, Options{Logger: logging.Discard()})
	var cfgErr *connectivity.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestWriteLoadReport(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	rep := Report{
		RunID:      "abc",
		StartedAt:  time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 5, 2, 9, 41, 7, 0, time.UTC),
		Stages:     []string{StageCompute},
		Config:     cfg,
		Compute:    &ComputeSummary{Subjects: 1, Items: 4, OK: 3, Failed: 1, Failures: []Failure{{Subject: "s01", Cell: "open_2", Kind: "timeout", Error: "task timeout"}}},
	}
	path, err := WriteReport(cfg.BundleDir, rep)
	require.NoError(t, err)

	got, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, rep, got)
	assert.True(t, got.Failed())
}
