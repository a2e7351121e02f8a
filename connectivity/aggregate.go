package connectivity

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// CellRequest is everything the aggregator needs for one (subject, cell).
// Edges and Bands are the run-wide shared instances.
type CellRequest struct {
	Series  RegionTimeSeries
	Cell    ConditionCell
	Edges   EdgeList
	Bands   BandTable
	Metrics []string
}

// AggregateCell selects the cell's trials, runs the estimator with the shared
// edge list and band table, averages every metric over trials and returns the
// packaged bundle. A cell without trials fails with EmptyCellError before the
// estimator is called.
func AggregateCell(ctx context.Context, est Estimator, req CellRequest) (CellBundle, error) {
	subject := req.Series.ID
	cellName := req.Cell.Descriptor.Name()
	estErr := func(metric string, err error) error {
		return &EstimationError{Subject: subject, Cell: cellName, Metric: metric, Err: err}
	}

	if est == nil {
		return CellBundle{}, &ConfigurationError{Field: "estimator", Reason: "nil"}
	}
	if len(req.Cell.Mask) != req.Series.Epochs() {
		return CellBundle{}, estErr("", fmt.Errorf("mask covers %d epochs, series has %d", len(req.Cell.Mask), req.Series.Epochs()))
	}
	trials := req.Cell.Trials()
	if trials == 0 {
		return CellBundle{}, &EmptyCellError{Subject: subject, Cell: cellName}
	}
	if err := req.Edges.CheckComplete(req.Series.Regions()); err != nil {
		return CellBundle{}, estErr("", fmt.Errorf("edge list does not match %d regions: %w", req.Series.Regions(), err))
	}
	if len(req.Metrics) == 0 {
		return CellBundle{}, &ConfigurationError{Field: "metrics", Reason: "no metrics requested"}
	}

	data := req.Series.SelectTrials(req.Cell.Mask)
	if err := checkFinite(data); err != nil {
		return CellBundle{}, estErr("", err)
	}

	results, err := est.Estimate(ctx, EstimateRequest{
		Data:    data,
		Edges:   req.Edges,
		SFreq:   req.Series.SFreq,
		Bands:   req.Bands,
		Metrics: req.Metrics,
	})
	if err != nil {
		var ee *EstimationError
		if errors.As(err, &ee) {
			ee.Subject, ee.Cell = subject, cellName
			return CellBundle{}, ee
		}
		return CellBundle{}, estErr("", err)
	}
	if len(results) != len(req.Metrics) {
		return CellBundle{}, estErr("", fmt.Errorf("estimator returned %d metrics, want %d", len(results), len(req.Metrics)))
	}

	metrics := make([]MetricArray, len(req.Metrics))
	for i, name := range req.Metrics {
		res := results[i]
		if res.Metric != name {
			return CellBundle{}, estErr(name, fmt.Errorf("result %d is %q", i, res.Metric))
		}
		if res.PerTrial && len(res.Values) != trials {
			return CellBundle{}, estErr(name, fmt.Errorf("per-trial result has %d trials, want %d", len(res.Values), trials))
		}
		values, err := CombineMean(res, len(req.Edges), len(req.Bands))
		if err != nil {
			return CellBundle{}, estErr(name, err)
		}
		metrics[i] = MetricArray{Name: name, Values: values}
	}

	return CellBundle{
		Version:   BundleVersion,
		SubjectID: subject,
		Cell:      req.Cell.Descriptor,
		Labels:    append([]string(nil), req.Series.Labels...),
		Edges:     req.Edges,
		Bands:     req.Bands,
		SFreq:     req.Series.SFreq,
		Trials:    trials,
		Metrics:   metrics,
	}, nil
}

func checkFinite(data [][][]float64) error {
	for t, trial := range data {
		for r, series := range trial {
			for s, v := range series {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("non-finite input at trial %d region %d sample %d", t, r, s)
				}
			}
		}
	}
	return nil
}
