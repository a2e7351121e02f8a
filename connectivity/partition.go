package connectivity

import (
	"fmt"
	"strings"
)

// FactorLevel maps a factor code in the trial table to a textual label.
type FactorLevel struct {
	Code  int    `json:"code" yaml:"code" mapstructure:"code"`
	Label string `json:"label" yaml:"label" mapstructure:"label" validate:"required"`
}

// Factor is one experimental factor to cross, e.g. eyes or session.
type Factor struct {
	Name   string        `json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Levels []FactorLevel `json:"levels" yaml:"levels" mapstructure:"levels" validate:"required,min=1,dive"`
}

// DefaultFactors is the eyes x session design: eyes code 1 is open, 0 is closed.
func DefaultFactors() []Factor {
	return []Factor{
		{Name: "eyes", Levels: []FactorLevel{{Code: 0, Label: "closed"}, {Code: 1, Label: "open"}}},
		{Name: "session", Levels: []FactorLevel{{Code: 1, Label: "1"}, {Code: 2, Label: "2"}}},
	}
}

// FactorTable is the per-epoch factor-code table of one subject.
type FactorTable struct {
	Names []string
	Rows  [][]int
}

// Column returns the column index of the named factor.
func (t FactorTable) Column(name string) (int, bool) {
	for i, n := range t.Names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// CellLevel is one factor's level within a cell.
type CellLevel struct {
	Factor string `json:"factor" validate:"required"`
	Code   int    `json:"code"`
	Label  string `json:"label" validate:"required"`
}

// CellDescriptor identifies a condition cell by its factor levels, in factor order.
type CellDescriptor struct {
	Levels []CellLevel `json:"levels" validate:"required,min=1,dive"`
}

// Name is the level labels joined by "_", e.g. "open_1".
func (d CellDescriptor) Name() string {
	parts := make([]string, len(d.Levels))
	for i, l := range d.Levels {
		parts[i] = l.Label
	}
	return strings.Join(parts, "_")
}

// Key is the factor/label sequence used in file names, e.g. "eyes_open_session_1".
func (d CellDescriptor) Key() string {
	parts := make([]string, 0, 2*len(d.Levels))
	for _, l := range d.Levels {
		parts = append(parts, l.Factor, l.Label)
	}
	return strings.Join(parts, "_")
}

func (d CellDescriptor) Equal(other CellDescriptor) bool {
	if len(d.Levels) != len(other.Levels) {
		return false
	}
	for i := range d.Levels {
		if d.Levels[i] != other.Levels[i] {
			return false
		}
	}
	return true
}

// ConditionCell is a cell descriptor plus its selection over the epoch axis.
type ConditionCell struct {
	Descriptor CellDescriptor
	Mask       []bool
}

// Trials returns the number of selected epochs.
func (c ConditionCell) Trials() int {
	n := 0
	for _, m := range c.Mask {
		if m {
			n++
		}
	}
	return n
}

// isNameToken reports whether s can be one "_"-separated part of a cell name
// and of a bundle file name.
func isNameToken(s string) bool {
	return s != "." && s != ".." && !strings.ContainsAny(s, `_/\`)
}

// ValidateFactors checks factor and level naming without a trial table.
func ValidateFactors(factors []Factor) error {
	if len(factors) == 0 {
		return &ConfigurationError{Field: "factors", Reason: "no factors configured"}
	}
	names := make(map[string]struct{}, len(factors))
	for _, f := range factors {
		if strings.TrimSpace(f.Name) == "" {
			return &ConfigurationError{Field: "factors", Reason: "factor without name"}
		}
		if !isNameToken(f.Name) {
			return &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("factor name %q may not contain '_' or path separators", f.Name)}
		}
		if _, ok := names[f.Name]; ok {
			return &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("duplicate factor %q", f.Name)}
		}
		names[f.Name] = struct{}{}
		if len(f.Levels) == 0 {
			return &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("factor %q has no levels", f.Name)}
		}
		codes := make(map[int]struct{}, len(f.Levels))
		labels := make(map[string]struct{}, len(f.Levels))
		for _, l := range f.Levels {
			if _, ok := codes[l.Code]; ok {
				return &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("factor %q repeats code %d", f.Name, l.Code)}
			}
			if _, ok := labels[l.Label]; ok || strings.TrimSpace(l.Label) == "" {
				return &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("factor %q has empty or repeated label %q", f.Name, l.Label)}
			}
			if !isNameToken(l.Label) {
				return &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("factor %q label %q may not contain '_' or path separators", f.Name, l.Label)}
			}
			codes[l.Code] = struct{}{}
			labels[l.Label] = struct{}{}
		}
	}
	return nil
}

// EnumerateCells returns the Cartesian product of factor levels: the first
// factor varies slowest, levels in configured order.
func EnumerateCells(factors []Factor) []CellDescriptor {
	if len(factors) == 0 {
		return nil
	}
	cells := []CellDescriptor{{}}
	for _, f := range factors {
		next := make([]CellDescriptor, 0, len(cells)*len(f.Levels))
		for _, c := range cells {
			for _, l := range f.Levels {
				levels := append(append([]CellLevel(nil), c.Levels...), CellLevel{Factor: f.Name, Code: l.Code, Label: l.Label})
				next = append(next, CellDescriptor{Levels: levels})
			}
		}
		cells = next
	}
	return cells
}

// PartitionConditions crosses the factor levels and builds one epoch mask per
// cell. Masks may be empty; a design need not be balanced.
func PartitionConditions(table FactorTable, factors []Factor) ([]ConditionCell, error) {
	if err := ValidateFactors(factors); err != nil {
		return nil, err
	}
	cols := make([]int, len(factors))
	for i, f := range factors {
		col, ok := table.Column(f.Name)
		if !ok {
			return nil, &ConfigurationError{Field: "factors", Reason: fmt.Sprintf("factor %q not in trial table (have %v)", f.Name, table.Names)}
		}
		cols[i] = col
	}

	descriptors := EnumerateCells(factors)
	out := make([]ConditionCell, len(descriptors))
	for ci, d := range descriptors {
		mask := make([]bool, len(table.Rows))
		for r, row := range table.Rows {
			match := true
			for fi, l := range d.Levels {
				if cols[fi] >= len(row) || row[cols[fi]] != l.Code {
					match = false
					break
				}
			}
			mask[r] = match
		}
		out[ci] = ConditionCell{Descriptor: d, Mask: mask}
	}
	return out, nil
}

// ResolveCellOrder maps cell names ("open_1", ...) to descriptors of the
// factor design, preserving the given order.
func ResolveCellOrder(factors []Factor, names []string) ([]CellDescriptor, error) {
	if len(names) == 0 {
		return nil, &ConfigurationError{Field: "cell_order", Reason: "no cells listed"}
	}
	byName := make(map[string]CellDescriptor)
	for _, d := range EnumerateCells(factors) {
		byName[d.Name()] = d
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]CellDescriptor, 0, len(names))
	for _, n := range names {
		d, ok := byName[n]
		if !ok {
			return nil, &ConfigurationError{Field: "cell_order", Reason: fmt.Sprintf("cell %q is not a level combination of the factors", n)}
		}
		if _, dup := seen[n]; dup {
			return nil, &ConfigurationError{Field: "cell_order", Reason: fmt.Sprintf("cell %q listed twice", n)}
		}
		seen[n] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}
