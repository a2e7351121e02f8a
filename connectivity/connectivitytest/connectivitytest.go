// Package connectivitytest provides synthetic subjects and stub estimators
// for tests of the connectivity pipeline.
package connectivitytest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
)

// Labels returns n region labels r00, r01, ...
func Labels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("r%02d", i)
	}
	return out
}

// BalancedTrialInfo returns perCell rows for each of the four default
// eyes x session cells, interleaved.
func BalancedTrialInfo(perCell int) [][]int {
	var rows [][]int
	for i := 0; i < perCell; i++ {
		rows = append(rows, []int{1, 1}, []int{1, 2}, []int{0, 1}, []int{0, 2})
	}
	return rows
}

// Subject builds a deterministic recording with the default factor columns.
// Samples are seeded noise so different subjects differ.
func Subject(id string, regions, samples int, sfreq float64, trialinfo [][]int) connectivity.RegionTimeSeries {
	seed := uint64(0)
	for _, c := range id {
		seed = seed*31 + uint64(c)
	}
	rng := rand.New(rand.NewPCG(seed, 7))
	data := make([][][]float64, len(trialinfo))
	for e := range data {
		data[e] = make([][]float64, regions)
		for r := range data[e] {
			s := make([]float64, samples)
			for k := range s {
				s[k] = rng.NormFloat64()
			}
			data[e][r] = s
		}
	}
	return connectivity.RegionTimeSeries{
		ID:          id,
		Labels:      Labels(regions),
		FactorNames: []string{"eyes", "session"},
		SFreq:       sfreq,
		TrialInfo:   trialinfo,
		Data:        data,
	}
}

// WriteSubjects saves each recording as an archive in dir.
func WriteSubjects(dir string, subjects ...connectivity.RegionTimeSeries) ([]string, error) {
	paths := make([]string, 0, len(subjects))
	for _, s := range subjects {
		p, err := connectivity.SaveRegionTimeSeries(dir, s)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// ConstantEstimator reports value for every trial, edge and band of every
// requested metric. Calls counts invocations.
type ConstantEstimator struct {
	Value float64
	Calls atomic.Int64
}

func (c *ConstantEstimator) Estimate(ctx context.Context, req connectivity.EstimateRequest) ([]connectivity.MetricResult, error) {
	c.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]connectivity.MetricResult, len(req.Metrics))
	for i, m := range req.Metrics {
		vals := make([][][]float64, len(req.Data))
		for t := range vals {
			vals[t] = Fill(len(req.Edges), len(req.Bands), c.Value)
		}
		out[i] = connectivity.MetricResult{Metric: m, PerTrial: true, Values: vals}
	}
	return out, nil
}

// Fill returns an [edges][bands] array holding v everywhere.
func Fill(edges, bands int, v float64) [][]float64 {
	out := make([][]float64, edges)
	for e := range out {
		row := make([]float64, bands)
		for b := range row {
			row[b] = v
		}
		out[e] = row
	}
	return out
}

// ErrInjected is returned by FailingEstimator.
var ErrInjected = errors.New("injected estimator failure")

// FailingEstimator returns ErrInjected for requests matched by Fail and
// delegates the rest to Next.
type FailingEstimator struct {
	Fail func(req connectivity.EstimateRequest) bool
	Next connectivity.Estimator
}

func (f *FailingEstimator) Estimate(ctx context.Context, req connectivity.EstimateRequest) ([]connectivity.MetricResult, error) {
	if f.Fail != nil && f.Fail(req) {
		return nil, ErrInjected
	}
	return f.Next.Estimate(ctx, req)
}

// FirstSamples returns the first sample of every epoch of ts. Requests carry
// no subject id; matching req.Data[0][0][0] against this set identifies them.
func FirstSamples(ts connectivity.RegionTimeSeries) map[float64]bool {
	out := make(map[float64]bool, len(ts.Data))
	for _, epoch := range ts.Data {
		if len(epoch) > 0 && len(epoch[0]) > 0 {
			out[epoch[0][0]] = true
		}
	}
	return out
}

// BlockingEstimator waits until ctx is done or Release is closed. With
// IgnoreContext it never looks at ctx.
type BlockingEstimator struct {
	Release       chan struct{}
	IgnoreContext bool
}

func (b *BlockingEstimator) Estimate(ctx context.Context, req connectivity.EstimateRequest) ([]connectivity.MetricResult, error) {
	if b.IgnoreContext {
		<-b.Release
		return nil, errors.New("released")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.Release:
		return nil, errors.New("released")
	}
}
