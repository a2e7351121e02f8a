package connectivity

import (
	"fmt"
	"math"
	"strings"
)

// Band is a named frequency interval [Low, High) in Hz.
type Band struct {
	Name string  `json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Low  float64 `json:"low" yaml:"low" mapstructure:"low" validate:"gte=0"`
	High float64 `json:"high" yaml:"high" mapstructure:"high" validate:"gtfield=Low"`
}

// Contains reports whether f falls in the band. Adjacent bands sharing a
// cutoff never both contain it.
func (b Band) Contains(f float64) bool {
	return f >= b.Low && f < b.High
}

// BandTable is the ordered band set of a run.
type BandTable []Band

// DefaultBands mirrors the integer-frequency coverage 2-3, 4-7, 8-10, 11-13
// and 16-30 Hz.
func DefaultBands() BandTable {
	return BandTable{
		{Name: "delta", Low: 2, High: 4},
		{Name: "theta", Low: 4, High: 8},
		{Name: "alpha_lo", Low: 8, High: 11},
		{Name: "alpha_hi", Low: 11, High: 14},
		{Name: "beta", Low: 16, High: 31},
	}
}

func (bt BandTable) Names() []string {
	out := make([]string, len(bt))
	for i, b := range bt {
		out[i] = b.Name
	}
	return out
}

// Index returns the band containing f, or -1.
func (bt BandTable) Index(f float64) int {
	for i, b := range bt {
		if b.Contains(f) {
			return i
		}
	}
	return -1
}

// Validate checks names are unique and intervals ascend without overlap.
func (bt BandTable) Validate() error {
	if len(bt) == 0 {
		return &ConfigurationError{Field: "bands", Reason: "no bands configured"}
	}
	seen := make(map[string]struct{}, len(bt))
	for i, b := range bt {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return &ConfigurationError{Field: "bands", Reason: fmt.Sprintf("band %d has no name", i)}
		}
		if _, ok := seen[name]; ok {
			return &ConfigurationError{Field: "bands", Reason: fmt.Sprintf("duplicate band %q", name)}
		}
		seen[name] = struct{}{}
		if math.IsNaN(b.Low) || math.IsInf(b.High, 0) || b.Low < 0 || b.High <= b.Low {
			return &ConfigurationError{Field: "bands", Reason: fmt.Sprintf("band %q has invalid interval [%g,%g)", name, b.Low, b.High)}
		}
		if i > 0 && b.Low < bt[i-1].High {
			return &ConfigurationError{Field: "bands", Reason: fmt.Sprintf("band %q overlaps %q", name, bt[i-1].Name)}
		}
	}
	return nil
}

// Equal compares names and cutoffs.
func (bt BandTable) Equal(other BandTable) bool {
	if len(bt) != len(other) {
		return false
	}
	for i := range bt {
		if bt[i] != other[i] {
			return false
		}
	}
	return true
}
