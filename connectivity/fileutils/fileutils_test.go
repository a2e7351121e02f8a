package fileutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONFileAtomic_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	type rec struct {
		ID     string    `json:"id"`
		Values []float64 `json:"values"`
	}
	in := rec{ID: "vp01", Values: []float64{0.5, 0.25}}
	require.NoError(t, WriteJSONFileAtomic(path, in, true))
	require.True(t, FileExists(path))

	var out rec
	require.NoError(t, ReadJSONFile(path, &out))
	assert.Equal(t, in, out)

	// No temp files remain next to the target.
	ents, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, ents, 1)
}

func TestReadJSONFile_Missing(t *testing.T) {
	t.Parallel()

	var v map[string]any
	err := ReadJSONFile(filepath.Join(t.TempDir(), "nope.json"), &v)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestListFiles_SkipsTempAndDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b_source_data.json", "a_source_data.json", ".tmp_x_source_data.json_1", "other.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "c_source_data.json"), 0o755))

	got, err := ListFiles(dir, "*_source_data.json")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a_source_data.json"),
		filepath.Join(dir, "b_source_data.json"),
	}, got)
}

func TestWriteJSONLinesAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.jsonl")
	require.NoError(t, WriteJSONLinesAtomic(path, []map[string]int{{"a": 1}, {"b": 2}}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, lines)
}

func TestRemoveIfExists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gone.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	require.NoError(t, RemoveIfExists(path))
	assert.False(t, FileExists(path))
	require.NoError(t, RemoveIfExists(path))
}
