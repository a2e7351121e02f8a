// Package spectral is a small reference implementation of the connectivity
// Estimator: windowed, Hann-tapered Fourier coefficients per trial, from which
// coherence and the weighted phase-lag index are formed per edge and
// frequency and then averaged inside each band.
//
// It exists so the pipeline runs end-to-end without an external toolbox. A
// multitaper implementation can replace it behind connectivity.Estimator.
package spectral

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
)

const (
	MetricCoherence = "coh"
	MetricWPLI      = "wpli"
)

// Estimator computes per-trial coherence and wPLI.
type Estimator struct {
	// WindowSeconds is the length of each non-overlapping analysis window.
	// Trials shorter than one window are analysed as a single window.
	WindowSeconds float64

	// FreqStep is the frequency grid spacing in Hz; frequencies are integer
	// multiples of it.
	FreqStep float64
}

func New(windowSeconds, freqStep float64) *Estimator {
	return &Estimator{WindowSeconds: windowSeconds, FreqStep: freqStep}
}

// Frequencies returns the grid frequencies that fall in band.
func (e *Estimator) Frequencies(band connectivity.Band) []float64 {
	step := e.FreqStep
	if step <= 0 {
		step = 1
	}
	var out []float64
	for k := math.Ceil(band.Low / step); k*step < band.High; k++ {
		out = append(out, k*step)
	}
	return out
}

// Estimate returns one per-trial [trial][edge][band] result per requested metric.
func (e *Estimator) Estimate(ctx context.Context, req connectivity.EstimateRequest) ([]connectivity.MetricResult, error) {
	for _, m := range req.Metrics {
		if m != MetricCoherence && m != MetricWPLI {
			return nil, &connectivity.EstimationError{Metric: m, Err: fmt.Errorf("unsupported metric")}
		}
	}
	if !(req.SFreq > 0) {
		return nil, fmt.Errorf("invalid sampling rate %g", req.SFreq)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("no trials")
	}

	bandFreqs := make([][]float64, len(req.Bands))
	for b, band := range req.Bands {
		bandFreqs[b] = e.Frequencies(band)
		if len(bandFreqs[b]) == 0 {
			return nil, fmt.Errorf("band %s [%g,%g) contains no grid frequency", band.Name, band.Low, band.High)
		}
		if nyq := req.SFreq / 2; bandFreqs[b][len(bandFreqs[b])-1] > nyq {
			return nil, fmt.Errorf("band %s exceeds Nyquist frequency %g", band.Name, nyq)
		}
	}

	results := make([]connectivity.MetricResult, len(req.Metrics))
	for i, m := range req.Metrics {
		results[i] = connectivity.MetricResult{Metric: m, PerTrial: true, Values: make([][][]float64, len(req.Data))}
	}

	for t, trial := range req.Data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		coeffs, err := e.trialCoefficients(trial, req.SFreq, bandFreqs)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", t, err)
		}
		for i, m := range req.Metrics {
			results[i].Values[t] = edgeBandValues(coeffs, req.Edges, m)
		}
	}
	return results, nil
}

// trialCoefficients returns [region][band][freq][window] Fourier coefficients.
func (e *Estimator) trialCoefficients(trial [][]float64, sfreq float64, bandFreqs [][]float64) ([][][][]complex128, error) {
	if len(trial) == 0 || len(trial[0]) < 2 {
		return nil, fmt.Errorf("trial has too few samples")
	}
	nSamples := len(trial[0])
	win := int(math.Round(e.WindowSeconds * sfreq))
	if win <= 1 || win > nSamples {
		win = nSamples
	}
	nWin := nSamples / win
	taper := hann(win)

	out := make([][][][]complex128, len(trial))
	buf := make([]float64, win)
	for r, series := range trial {
		out[r] = make([][][]complex128, len(bandFreqs))
		for b, freqs := range bandFreqs {
			out[r][b] = make([][]complex128, len(freqs))
			for fi := range freqs {
				out[r][b][fi] = make([]complex128, nWin)
			}
		}
		for w := 0; w < nWin; w++ {
			seg := series[w*win : (w+1)*win]
			mean := 0.0
			for _, v := range seg {
				mean += v
			}
			mean /= float64(win)
			for n, v := range seg {
				buf[n] = (v - mean) * taper[n]
			}
			for b, freqs := range bandFreqs {
				for fi, f := range freqs {
					out[r][b][fi][w] = dft(buf, f/sfreq)
				}
			}
		}
	}
	return out, nil
}

// edgeBandValues averages the metric over the frequencies of each band.
func edgeBandValues(coeffs [][][][]complex128, edges connectivity.EdgeList, metric string) [][]float64 {
	out := make([][]float64, len(edges))
	for k, edge := range edges {
		x, y := coeffs[edge.I], coeffs[edge.J]
		row := make([]float64, len(x))
		for b := range x {
			sum := 0.0
			for fi := range x[b] {
				sum += pairValue(x[b][fi], y[b][fi], metric)
			}
			row[b] = sum / float64(len(x[b]))
		}
		out[k] = row
	}
	return out
}

func pairValue(x, y []complex128, metric string) float64 {
	var (
		cross          complex128
		pxx, pyy       float64
		sumIm, sumAbsI float64
	)
	for w := range x {
		sxy := x[w] * cmplx.Conj(y[w])
		cross += sxy
		pxx += real(x[w] * cmplx.Conj(x[w]))
		pyy += real(y[w] * cmplx.Conj(y[w]))
		sumIm += imag(sxy)
		sumAbsI += math.Abs(imag(sxy))
	}
	switch metric {
	case MetricWPLI:
		if sumAbsI == 0 {
			return 0
		}
		return math.Abs(sumIm) / sumAbsI
	default:
		den := math.Sqrt(pxx * pyy)
		if den == 0 {
			return 0
		}
		return cmplx.Abs(cross) / den
	}
}

// dft evaluates the Fourier coefficient of x at normalized frequency nu (cycles/sample).
func dft(x []float64, nu float64) complex128 {
	var re, im float64
	for n, v := range x {
		phi := -2 * math.Pi * nu * float64(n)
		re += v * math.Cos(phi)
		im += v * math.Sin(phi)
	}
	return complex(re, im)
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
