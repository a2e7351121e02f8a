package connectivity

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/emer/etable/v2/etensor"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/fileutils"
)

// ExportDimensions names the axes of every exported metric array, in order.
var ExportDimensions = []string{"condition", "edge", "freqband"}

// EdgeIndexBase is the index base of the exported edge table.
const EdgeIndexBase = 1

const exportSuffix = "_connectivity_data.json"

// ExportBundle is one subject's cell bundles stacked along a leading
// condition axis, in the prescribed cell order.
type ExportBundle struct {
	SubjectID string
	Cells     []CellDescriptor
	Labels    []string
	Bands     BandTable
	Edges     EdgeList
	Metrics   []string

	// Tensors maps metric name to a [condition, edge, freqband] tensor.
	Tensors map[string]*etensor.Float64
}

// ExportRecord is the persisted, self-describing form of an ExportBundle.
type ExportRecord struct {
	SubjectID      string                   `json:"subject_id" validate:"required"`
	Metrics        map[string][][][]float64 `json:"metrics" validate:"required,min=1"`
	LabelNames     []string                 `json:"label_names" validate:"required,min=2"`
	FreqBands      []string                 `json:"freqbands" validate:"required,min=1"`
	FreqBandLimits [][2]float64             `json:"freqband_limits" validate:"required"`
	Conditions     []string                 `json:"conditions" validate:"required,min=1"`
	Dimensions     []string                 `json:"dimensions" validate:"len=3"`
	EdgeList       [][2]int                 `json:"edge_list" validate:"required"`
	EdgeIndexBase  int                      `json:"edge_index_base" validate:"oneof=0 1"`
}

// AssembleSubject loads every expected cell of a subject by key, checks that
// all bundles agree on labels, edges, bands and metrics, and stacks them.
// An absent bundle fails with MissingCellError naming it; nothing is
// zero-filled.
func AssembleSubject(store CellStore, subjectID string, order []CellDescriptor) (*ExportBundle, error) {
	if err := ValidateSubjectID(subjectID); err != nil {
		return nil, &ConfigurationError{Field: "subject", Reason: "invalid subject id", Err: err}
	}
	if len(order) == 0 {
		return nil, &ConfigurationError{Field: "cell_order", Reason: "no cells to assemble"}
	}
	bundles := make([]CellBundle, len(order))
	for i, cell := range order {
		b, err := store.Load(subjectID, cell)
		if err != nil {
			return nil, err
		}
		bundles[i] = b
	}

	ref := bundles[0]
	for i, b := range bundles[1:] {
		cell := order[i+1].Name()
		mismatch := func(field string) error {
			return &SchemaMismatchError{Subject: subjectID, Cell: cell, Field: field, Detail: "differs from cell " + order[0].Name()}
		}
		switch {
		case !slices.Equal(b.Labels, ref.Labels):
			return nil, mismatch("labels")
		case !b.Edges.Equal(ref.Edges):
			return nil, mismatch("edges")
		case !b.Bands.Equal(ref.Bands):
			return nil, mismatch("bands")
		case !slices.Equal(b.MetricNames(), ref.MetricNames()):
			return nil, mismatch("metrics")
		}
	}

	nC, nE, nB := len(order), len(ref.Edges), len(ref.Bands)
	out := &ExportBundle{
		SubjectID: subjectID,
		Cells:     order,
		Labels:    ref.Labels,
		Bands:     ref.Bands,
		Edges:     ref.Edges,
		Metrics:   ref.MetricNames(),
		Tensors:   make(map[string]*etensor.Float64, len(ref.Metrics)),
	}
	for _, name := range out.Metrics {
		tsr := etensor.NewFloat64([]int{nC, nE, nB}, nil, ExportDimensions)
		for c, b := range bundles {
			values, _ := b.Metric(name)
			for e := 0; e < nE; e++ {
				for k := 0; k < nB; k++ {
					tsr.Set([]int{c, e, k}, values[e][k])
				}
			}
		}
		out.Tensors[name] = tsr
	}
	return out, nil
}

// Record converts the bundle to its persisted form.
func (eb *ExportBundle) Record() ExportRecord {
	rec := ExportRecord{
		SubjectID:      eb.SubjectID,
		Metrics:        make(map[string][][][]float64, len(eb.Tensors)),
		LabelNames:     eb.Labels,
		FreqBands:      eb.Bands.Names(),
		FreqBandLimits: make([][2]float64, len(eb.Bands)),
		Conditions:     make([]string, len(eb.Cells)),
		Dimensions:     ExportDimensions,
		EdgeList:       eb.Edges.Table(EdgeIndexBase),
		EdgeIndexBase:  EdgeIndexBase,
	}
	for i, b := range eb.Bands {
		rec.FreqBandLimits[i] = [2]float64{b.Low, b.High}
	}
	for i, c := range eb.Cells {
		rec.Conditions[i] = c.Name()
	}
	for name, tsr := range eb.Tensors {
		nC, nE, nB := tsr.Dim(0), tsr.Dim(1), tsr.Dim(2)
		arr := make([][][]float64, nC)
		for c := range arr {
			arr[c] = make([][]float64, nE)
			for e := range arr[c] {
				row := make([]float64, nB)
				for k := range row {
					row[k] = tsr.Value([]int{c, e, k})
				}
				arr[c][e] = row
			}
		}
		rec.Metrics[name] = arr
	}
	return rec
}

// ExportPath returns the export file of a subject.
func ExportPath(dir, subjectID string) string {
	return filepath.Join(dir, subjectID+exportSuffix)
}

// SaveExport validates rec and writes it atomically to the export dir.
func SaveExport(dir string, rec ExportRecord, pretty bool) (string, error) {
	if dir == "" {
		return "", &ConfigurationError{Field: "export_dir", Reason: "empty"}
	}
	if err := validate.Struct(rec); err != nil {
		return "", fmt.Errorf("SaveExport: %s: %w", rec.SubjectID, err)
	}
	if err := ValidateSubjectID(rec.SubjectID); err != nil {
		return "", fmt.Errorf("SaveExport: %w", err)
	}
	path := ExportPath(dir, rec.SubjectID)
	if err := fileutils.WriteJSONFileAtomic(path, rec, pretty); err != nil {
		return "", fmt.Errorf("SaveExport: %w", err)
	}
	return path, nil
}

// LoadExport reads a subject export file.
func LoadExport(path string) (ExportRecord, error) {
	var rec ExportRecord
	if err := fileutils.ReadJSONFile(path, &rec); err != nil {
		return ExportRecord{}, fmt.Errorf("LoadExport: %w", err)
	}
	return rec, nil
}

// AssemblyResult is the outcome of one subject's export.
type AssemblyResult struct {
	SubjectID string
	Path      string
	Err       error
}

// Assembler exports subjects one by one. A subject that fails does not stop
// the others; its error is returned in its result and any export file left
// from an earlier run is removed.
type Assembler struct {
	Store     CellStore
	ExportDir string
	Order     []CellDescriptor
	Pretty    bool
	Logger    *slog.Logger
}

func (a *Assembler) Run(subjects []string) []AssemblyResult {
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	out := make([]AssemblyResult, 0, len(subjects))
	for _, id := range subjects {
		res := AssemblyResult{SubjectID: id}
		eb, err := AssembleSubject(a.Store, id, a.Order)
		if err == nil {
			res.Path, err = SaveExport(a.ExportDir, eb.Record(), a.Pretty)
		}
		res.Err = err

		if err != nil {
			if a.ExportDir != "" && ValidateSubjectID(id) == nil {
				if rmErr := fileutils.RemoveIfExists(ExportPath(a.ExportDir, id)); rmErr != nil {
					a.Logger.Warn("stale export not removed", slog.String("subject", id), slog.Any("error", rmErr))
				}
			}
			kind := ErrorKind(err)
			subjectAssembliesTotal.WithLabelValues(string(StatusFailed), kind).Inc()
			a.Logger.Error("subject export failed",
				slog.String("subject", id),
				slog.String("kind", kind),
				slog.Any("error", err),
			)
		} else {
			subjectAssembliesTotal.WithLabelValues(string(StatusOK), "").Inc()
			a.Logger.Info("subject exported", slog.String("subject", id), slog.String("path", res.Path))
		}
		out = append(out, res)
	}
	return out
}
