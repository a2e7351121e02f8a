package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strings"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/fileutils"
)

// ArchiveSuffix is the file-name suffix of a subject's region time-series archive.
const ArchiveSuffix = "_source_data.json"

// RegionTimeSeries is one subject's source-space recording: epochs of
// [region][sample] data, a per-epoch factor-code table and region labels.
// It is produced upstream and treated as read-only here.
type RegionTimeSeries struct {
	ID          string   `json:"id"`
	Labels      []string `json:"labels"`
	FactorNames []string `json:"factor_names"`
	SFreq       float64  `json:"sfreq"`

	// TrialInfo holds one row of factor codes per epoch, columns in FactorNames order.
	TrialInfo [][]int `json:"trialinfo"`

	// Data is [epoch][region][sample].
	Data [][][]float64 `json:"data"`
}

// SourceReconstructor is the upstream stage that turns a subject's cleaned
// sensor recording into region time-series (forward/inverse modelling and
// parcellation). It is not implemented in this module.
type SourceReconstructor interface {
	Reconstruct(ctx context.Context, subjectID string) (RegionTimeSeries, error)
}

func (ts RegionTimeSeries) Epochs() int  { return len(ts.Data) }
func (ts RegionTimeSeries) Regions() int { return len(ts.Labels) }

// Samples returns the per-epoch sample count, or 0 without epochs.
func (ts RegionTimeSeries) Samples() int {
	if len(ts.Data) == 0 || len(ts.Data[0]) == 0 {
		return 0
	}
	return len(ts.Data[0][0])
}

// FactorTable returns the factor-code table view of the recording.
func (ts RegionTimeSeries) FactorTable() FactorTable {
	return FactorTable{Names: ts.FactorNames, Rows: ts.TrialInfo}
}

// ValidateSubjectID rejects ids that cannot be used verbatim as part of a
// file name inside the bundle or export directory.
func ValidateSubjectID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("missing subject id")
	case id != strings.TrimSpace(id):
		return fmt.Errorf("subject id %q has surrounding whitespace", id)
	case id == "." || id == ".." || strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("subject id %q contains a path element", id)
	}
	return nil
}

// Validate checks the structural invariants of the recording.
func (ts RegionTimeSeries) Validate() error {
	if err := ValidateSubjectID(ts.ID); err != nil {
		return err
	}
	if len(ts.Labels) == 0 {
		return errors.New("no region labels")
	}
	seen := make(map[string]struct{}, len(ts.Labels))
	for _, l := range ts.Labels {
		if _, ok := seen[l]; ok {
			return fmt.Errorf("duplicate region label %q", l)
		}
		seen[l] = struct{}{}
	}
	if !(ts.SFreq > 0) || math.IsInf(ts.SFreq, 0) {
		return fmt.Errorf("invalid sampling rate %g", ts.SFreq)
	}
	if len(ts.TrialInfo) != len(ts.Data) {
		return fmt.Errorf("trialinfo has %d rows for %d epochs", len(ts.TrialInfo), len(ts.Data))
	}
	for i, row := range ts.TrialInfo {
		if len(row) != len(ts.FactorNames) {
			return fmt.Errorf("trialinfo row %d has %d columns, want %d", i, len(row), len(ts.FactorNames))
		}
	}
	samples := ts.Samples()
	for e, epoch := range ts.Data {
		if len(epoch) != len(ts.Labels) {
			return fmt.Errorf("epoch %d has %d regions, want %d", e, len(epoch), len(ts.Labels))
		}
		for r, series := range epoch {
			if len(series) != samples {
				return fmt.Errorf("epoch %d region %d has %d samples, want %d", e, r, len(series), samples)
			}
		}
	}
	return nil
}

// LoadRegionTimeSeries reads and validates a subject archive.
func LoadRegionTimeSeries(path string) (RegionTimeSeries, error) {
	if path == "" {
		return RegionTimeSeries{}, &ConfigurationError{Field: "input", Reason: "archive path is empty"}
	}
	var ts RegionTimeSeries
	if err := fileutils.ReadJSONFile(path, &ts); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RegionTimeSeries{}, &ConfigurationError{Field: "input", Reason: "archive not found", Err: err}
		}
		return RegionTimeSeries{}, fmt.Errorf("LoadRegionTimeSeries: %w", err)
	}
	if err := ts.Validate(); err != nil {
		return RegionTimeSeries{}, fmt.Errorf("LoadRegionTimeSeries: %s: %w", filepath.Base(path), err)
	}
	return ts, nil
}

// SaveRegionTimeSeries writes a subject archive as <dir>/<id>_source_data.json.
func SaveRegionTimeSeries(dir string, ts RegionTimeSeries) (string, error) {
	if err := ts.Validate(); err != nil {
		return "", fmt.Errorf("SaveRegionTimeSeries: %w", err)
	}
	path := filepath.Join(dir, ts.ID+ArchiveSuffix)
	if err := fileutils.WriteJSONFileAtomic(path, ts, false); err != nil {
		return "", fmt.Errorf("SaveRegionTimeSeries: %w", err)
	}
	return path, nil
}

// ListSubjectArchives returns the archive paths in dir, sorted.
func ListSubjectArchives(dir string) ([]string, error) {
	paths, err := fileutils.ListFiles(dir, "*"+ArchiveSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigurationError{Field: "input_dir", Reason: "directory not found", Err: err}
		}
		return nil, fmt.Errorf("ListSubjectArchives: %w", err)
	}
	return paths, nil
}

// SubjectIDFromArchive derives the subject id from an archive file name.
func SubjectIDFromArchive(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ArchiveSuffix)
}

// SelectTrials copies out the epochs where mask is true, as [trial][region][sample].
func (ts RegionTimeSeries) SelectTrials(mask []bool) [][][]float64 {
	var out [][][]float64
	for i, keep := range mask {
		if keep && i < len(ts.Data) {
			out = append(out, ts.Data[i])
		}
	}
	return out
}
