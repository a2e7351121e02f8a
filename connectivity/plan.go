package connectivity

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/fileutils"
)

// WorkItem is one (subject archive, cell) task.
type WorkItem struct {
	ArchivePath string
	SubjectID   string
	Cell        CellDescriptor
}

// Plan is the ordered work list of a compute run plus the run-wide shared
// region labels and edge list.
type Plan struct {
	Items  []WorkItem
	Labels []string
	Edges  EdgeList
}

type archiveHeader struct {
	ID          string   `json:"id"`
	Labels      []string `json:"labels"`
	FactorNames []string `json:"factor_names"`
}

// BuildPlan reads the header of every archive, checks that all subjects share
// the same region labels and carry every requested factor, and lists one work
// item per subject per cell. The edge list is enumerated once here.
func BuildPlan(archives []string, factors []Factor) (Plan, error) {
	if err := ValidateFactors(factors); err != nil {
		return Plan{}, err
	}
	if len(archives) == 0 {
		return Plan{}, &ConfigurationError{Field: "input_dir", Reason: "no subject archives found"}
	}
	cells := EnumerateCells(factors)

	var plan Plan
	seen := make(map[string]string, len(archives))
	for _, path := range archives {
		var h archiveHeader
		if err := fileutils.ReadJSONFile(path, &h); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Plan{}, &ConfigurationError{Field: "input", Reason: "archive not found", Err: err}
			}
			return Plan{}, fmt.Errorf("BuildPlan: %w", err)
		}
		if h.ID == "" {
			h.ID = SubjectIDFromArchive(path)
		}
		if err := ValidateSubjectID(h.ID); err != nil {
			return Plan{}, &ConfigurationError{Field: "input", Reason: path, Err: err}
		}
		if prev, dup := seen[h.ID]; dup {
			return Plan{}, &ConfigurationError{Field: "input", Reason: fmt.Sprintf("subject %s appears in %s and %s", h.ID, prev, path)}
		}
		seen[h.ID] = path

		table := FactorTable{Names: h.FactorNames}
		for _, f := range factors {
			if _, ok := table.Column(f.Name); !ok {
				return Plan{}, &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("subject %s has no factor %q (have %v)", h.ID, f.Name, h.FactorNames)}
			}
		}

		if plan.Labels == nil {
			plan.Labels = h.Labels
		} else if !slices.Equal(plan.Labels, h.Labels) {
			return Plan{}, &ConfigurationError{Field: "input", Reason: fmt.Sprintf("subject %s region labels differ from the first subject", h.ID)}
		}

		for _, c := range cells {
			plan.Items = append(plan.Items, WorkItem{ArchivePath: path, SubjectID: h.ID, Cell: c})
		}
	}
	if len(plan.Labels) < 2 {
		return Plan{}, &ConfigurationError{Field: "input", Reason: fmt.Sprintf("need at least 2 regions, have %d", len(plan.Labels))}
	}
	plan.Edges = EnumerateEdges(len(plan.Labels))
	return plan, nil
}

// ForSubjects keeps only the items of the listed subject ids, matched on the
// id carried inside each archive. An empty list keeps every item.
func (p Plan) ForSubjects(ids []string) Plan {
	if len(ids) == 0 {
		return p
	}
	out := Plan{Labels: p.Labels, Edges: p.Edges}
	for _, it := range p.Items {
		if slices.Contains(ids, it.SubjectID) {
			out.Items = append(out.Items, it)
		}
	}
	return out
}

// Subjects returns the distinct subject ids of the plan in item order.
func (p Plan) Subjects() []string {
	var out []string
	for _, it := range p.Items {
		if !slices.Contains(out, it.SubjectID) {
			out = append(out, it.SubjectID)
		}
	}
	return out
}
