package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/connectivitytest"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/journal"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/schema"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/cli"
	"github.com/theimaginaryfoundation/vsrs-connectivity/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPipeline_EndToEnd(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "source")
	bundles := filepath.Join(root, "bundles")
	exports := filepath.Join(root, "exports")
	jdir := filepath.Join(root, "journal")
	metrics := filepath.Join(root, "vsrs.prom")

	_, err := connectivitytest.WriteSubjects(in,
		connectivitytest.Subject("s01", 4, 400, 200, connectivitytest.BalancedTrialInfo(2)),
		connectivitytest.Subject("s02", 4, 400, 200, connectivitytest.BalancedTrialInfo(2)),
	)
	require.NoError(t, err)

	out, err := execute(t,
		"--input-dir", in,
		"--bundle-dir", bundles,
		"--export-dir", exports,
		"--journal-dir", jdir,
		"--metrics-file", metrics,
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "cells_ok=8 cells_skipped=0 cells_failed=0")
	assert.Contains(t, out, "subjects_exported=2 subjects_failed=0")
	assert.Contains(t, out, "schema: "+filepath.Join(exports, pipeline.SchemaDir, schema.CellBundleFile))

	for _, id := range []string{"s01", "s02"} {
		rec, err := connectivity.LoadExport(connectivity.ExportPath(exports, id))
		require.NoError(t, err)
		assert.Equal(t, []string{"condition", "edge", "freqband"}, rec.Dimensions)
		require.Len(t, rec.Metrics["wpli"], 4)
		require.Len(t, rec.Metrics["wpli"][0], 6)
		require.Len(t, rec.Metrics["wpli"][0][0], 5)
	}

	rep, err := pipeline.LoadReport(filepath.Join(bundles, pipeline.ReportFile))
	require.NoError(t, err)
	assert.Equal(t, pipeline.Stages(), rep.Stages)
	assert.NotEmpty(t, rep.RunID)

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "vsrs_cell_tasks_total")

	j, err := journal.Open(journal.DefaultConfig(jdir))
	require.NoError(t, err)
	defer j.Close()
	recs, err := j.List("")
	require.NoError(t, err)
	require.Len(t, recs, 8)
	for _, r := range recs {
		assert.Equal(t, rep.RunID, r.RunID)
		assert.Equal(t, connectivity.StatusOK, r.Status)
	}
}

func TestPipeline_StageSelection(t *testing.T) {
	exports := t.TempDir()
	out, err := execute(t, "--only-stage", "schemas", "--bundle-dir", t.TempDir(), "--export-dir", exports, "--journal-dir", "")
	require.NoError(t, err)
	assert.NotContains(t, out, "cells_ok")
	assert.FileExists(t, filepath.Join(exports, pipeline.SchemaDir, schema.SubjectExportFile))

	_, err = execute(t, "--only-stage", "compute", "--from-stage", "assemble")
	assert.Equal(t, 2, cli.ExitCode(err))

	_, err = execute(t, "--from-stage", "pack")
	assert.Equal(t, 2, cli.ExitCode(err))
}

func TestPipeline_PrintConfig(t *testing.T) {
	out, err := execute(t, "--print-config", "--workers", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "workers: 7")
	assert.Contains(t, out, "cell_order:")
}
