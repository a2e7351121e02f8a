package connectivity

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/fileutils"
)

// BundleVersion is the on-disk version of CellBundle.
const BundleVersion = 1

const (
	bundlePrefix = "connydat_"
	indexFile    = "index.jsonl"
)

var validate = validator.New()

// MetricArray is one metric's trial-averaged [edge][band] array.
type MetricArray struct {
	Name   string      `json:"name" validate:"required"`
	Values [][]float64 `json:"values" validate:"required"`
}

// CellBundle is the persisted connectivity result of one (subject, cell).
type CellBundle struct {
	Version   int            `json:"version" validate:"eq=1"`
	SubjectID string         `json:"subject_id" validate:"required"`
	Cell      CellDescriptor `json:"cell"`
	Labels    []string       `json:"labels" validate:"required,min=2,unique"`
	Edges     EdgeList       `json:"edges" validate:"required"`
	Bands     BandTable      `json:"bands" validate:"required,min=1,dive"`
	SFreq     float64        `json:"sfreq" validate:"gt=0"`
	Trials    int            `json:"trials" validate:"gte=1"`
	Metrics   []MetricArray  `json:"metrics" validate:"required,min=1,dive"`
}

// Metric returns the named metric array.
func (b CellBundle) Metric(name string) ([][]float64, bool) {
	for _, m := range b.Metrics {
		if m.Name == name {
			return m.Values, true
		}
	}
	return nil, false
}

// MetricNames returns the metric names in stored order.
func (b CellBundle) MetricNames() []string {
	out := make([]string, len(b.Metrics))
	for i, m := range b.Metrics {
		out[i] = m.Name
	}
	return out
}

// Validate checks tags and shape invariants: the edge list is the complete
// graph over the labels, and each metric is finite with shape (|edges|, |bands|).
func (b CellBundle) Validate() error {
	mismatch := func(field, detail string) error {
		return &SchemaMismatchError{Subject: b.SubjectID, Cell: b.Cell.Name(), Field: field, Detail: detail}
	}
	if err := validate.Struct(b); err != nil {
		return mismatch("bundle", err.Error())
	}
	if err := ValidateSubjectID(b.SubjectID); err != nil {
		return mismatch("subject_id", err.Error())
	}
	if err := b.Edges.CheckComplete(len(b.Labels)); err != nil {
		return mismatch("edges", err.Error())
	}
	if err := b.Bands.Validate(); err != nil {
		return mismatch("bands", err.Error())
	}
	seen := make(map[string]struct{}, len(b.Metrics))
	for _, m := range b.Metrics {
		if _, ok := seen[m.Name]; ok {
			return mismatch("metrics", fmt.Sprintf("duplicate metric %q", m.Name))
		}
		seen[m.Name] = struct{}{}
		if len(m.Values) != len(b.Edges) {
			return mismatch("metrics", fmt.Sprintf("%s has %d edges, want %d", m.Name, len(m.Values), len(b.Edges)))
		}
		for e, row := range m.Values {
			if len(row) != len(b.Bands) {
				return mismatch("metrics", fmt.Sprintf("%s edge %d has %d bands, want %d", m.Name, e, len(row), len(b.Bands)))
			}
			for k, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return mismatch("metrics", fmt.Sprintf("%s edge %d band %d is not finite", m.Name, e, k))
				}
			}
		}
	}
	return nil
}

// CellIndexRecord is one row of the bundle index.
type CellIndexRecord struct {
	SubjectID string   `json:"subject_id"`
	Cell      string   `json:"cell"`
	Path      string   `json:"path"`
	Trials    int      `json:"trials"`
	Metrics   []string `json:"metrics"`
}

// CellStore persists cell bundles as one JSON file per (subject, cell).
type CellStore struct {
	Dir    string
	Pretty bool
}

// Path returns the bundle file for a subject and cell.
func (s CellStore) Path(subjectID string, cell CellDescriptor) string {
	return filepath.Join(s.Dir, bundlePrefix+subjectID+"_"+cell.Key()+".json")
}

func (s CellStore) Exists(subjectID string, cell CellDescriptor) bool {
	return fileutils.FileExists(s.Path(subjectID, cell))
}

// Save validates b and writes it atomically. It returns the written path.
func (s CellStore) Save(b CellBundle) (string, error) {
	if s.Dir == "" {
		return "", &ConfigurationError{Field: "bundle_dir", Reason: "empty"}
	}
	if err := b.Validate(); err != nil {
		return "", err
	}
	path := s.Path(b.SubjectID, b.Cell)
	if err := fileutils.WriteJSONFileAtomic(path, b, s.Pretty); err != nil {
		return "", fmt.Errorf("CellStore.Save: %w", err)
	}
	return path, nil
}

// Remove deletes the bundle for (subject, cell), if any.
func (s CellStore) Remove(subjectID string, cell CellDescriptor) error {
	if err := fileutils.RemoveIfExists(s.Path(subjectID, cell)); err != nil {
		return fmt.Errorf("CellStore.Remove: %w", err)
	}
	return nil
}

// Load reads the bundle for (subject, cell) and validates it before use.
// An absent file yields MissingCellError.
func (s CellStore) Load(subjectID string, cell CellDescriptor) (CellBundle, error) {
	path := s.Path(subjectID, cell)
	var b CellBundle
	if err := fileutils.ReadJSONFile(path, &b); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CellBundle{}, &MissingCellError{Subject: subjectID, Cell: cell.Name(), Path: path}
		}
		return CellBundle{}, &SchemaMismatchError{Subject: subjectID, Cell: cell.Name(), Field: "file", Detail: err.Error()}
	}
	if err := b.Validate(); err != nil {
		return CellBundle{}, err
	}
	if b.SubjectID != subjectID || !b.Cell.Equal(cell) {
		return CellBundle{}, &SchemaMismatchError{
			Subject: subjectID,
			Cell:    cell.Name(),
			Field:   "identity",
			Detail:  fmt.Sprintf("file holds subject %s cell %s", b.SubjectID, b.Cell.Name()),
		}
	}
	return b, nil
}

type bundleHeader struct {
	SubjectID string         `json:"subject_id"`
	Cell      CellDescriptor `json:"cell"`
	Trials    int            `json:"trials"`
	Metrics   []struct {
		Name string `json:"name"`
	} `json:"metrics"`
}

func (s CellStore) headers() ([]bundleHeader, []string, error) {
	paths, err := fileutils.ListFiles(s.Dir, bundlePrefix+"*.json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("CellStore: list: %w", err)
	}
	hs := make([]bundleHeader, 0, len(paths))
	for _, p := range paths {
		var h bundleHeader
		if err := fileutils.ReadJSONFile(p, &h); err != nil {
			return nil, nil, fmt.Errorf("CellStore: read header: %w", err)
		}
		hs = append(hs, h)
	}
	return hs, paths, nil
}

// Subjects returns the sorted subject ids that have at least one bundle.
func (s CellStore) Subjects() ([]string, error) {
	hs, _, err := s.headers()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, h := range hs {
		if _, ok := seen[h.SubjectID]; ok || h.SubjectID == "" {
			continue
		}
		seen[h.SubjectID] = struct{}{}
		out = append(out, h.SubjectID)
	}
	sort.Strings(out)
	return out, nil
}

// RebuildIndex rewrites index.jsonl from the bundles on disk and returns the rows.
func (s CellStore) RebuildIndex() ([]CellIndexRecord, error) {
	hs, paths, err := s.headers()
	if err != nil {
		return nil, err
	}
	rows := make([]CellIndexRecord, 0, len(hs))
	for i, h := range hs {
		names := make([]string, len(h.Metrics))
		for k, m := range h.Metrics {
			names[k] = m.Name
		}
		rows = append(rows, CellIndexRecord{
			SubjectID: h.SubjectID,
			Cell:      h.Cell.Name(),
			Path:      paths[i],
			Trials:    h.Trials,
			Metrics:   names,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SubjectID != rows[j].SubjectID {
			return rows[i].SubjectID < rows[j].SubjectID
		}
		return rows[i].Cell < rows[j].Cell
	})
	if err := fileutils.WriteJSONLinesAtomic(filepath.Join(s.Dir, indexFile), rows); err != nil {
		return nil, fmt.Errorf("CellStore.RebuildIndex: %w", err)
	}
	return rows, nil
}
