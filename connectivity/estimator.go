package connectivity

import (
	"context"
	"fmt"
	"math"
)

// DefaultMetrics are the two connectivity metrics computed per cell.
func DefaultMetrics() []string { return []string{"wpli", "coh"} }

// EstimateRequest is the input contract of an Estimator.
type EstimateRequest struct {
	// Data is [trial][region][sample].
	Data    [][][]float64
	Edges   EdgeList
	SFreq   float64
	Bands   BandTable
	Metrics []string
}

// MetricResult is one metric's estimator output. When PerTrial is set, Values
// is [trial][edge][band]; otherwise it holds a single already-combined
// [edge][band] slab at Values[0].
type MetricResult struct {
	Metric   string
	PerTrial bool
	Values   [][][]float64
}

// Estimator computes per-edge, per-band connectivity for a set of trials.
// Results must be returned in req.Metrics order and be positionally aligned
// with req.Edges and req.Bands. Implementations should honor ctx.
type Estimator interface {
	Estimate(ctx context.Context, req EstimateRequest) ([]MetricResult, error)
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(ctx context.Context, req EstimateRequest) ([]MetricResult, error)

func (f EstimatorFunc) Estimate(ctx context.Context, req EstimateRequest) ([]MetricResult, error) {
	return f(ctx, req)
}

// CombineMean reduces a metric result to one [edge][band] array by averaging
// over the trial axis. Already-combined results are checked and copied.
// The same reducer is applied to every metric.
func CombineMean(res MetricResult, nEdges, nBands int) ([][]float64, error) {
	if len(res.Values) == 0 {
		return nil, fmt.Errorf("metric %s: no values", res.Metric)
	}
	if !res.PerTrial && len(res.Values) != 1 {
		return nil, fmt.Errorf("metric %s: combined result has %d slabs, want 1", res.Metric, len(res.Values))
	}
	out := make([][]float64, nEdges)
	for e := range out {
		out[e] = make([]float64, nBands)
	}
	for t, slab := range res.Values {
		if len(slab) != nEdges {
			return nil, fmt.Errorf("metric %s trial %d: %d edges, want %d", res.Metric, t, len(slab), nEdges)
		}
		for e, row := range slab {
			if len(row) != nBands {
				return nil, fmt.Errorf("metric %s trial %d edge %d: %d bands, want %d", res.Metric, t, e, len(row), nBands)
			}
			for b, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, fmt.Errorf("metric %s trial %d edge %d band %d: non-finite value", res.Metric, t, e, b)
				}
				out[e][b] += v
			}
		}
	}
	n := float64(len(res.Values))
	for e := range out {
		for b := range out[e] {
			out[e][b] /= n
		}
	}
	return out, nil
}
