// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type Metric int

const (
	Pearson Metric = iota
	Euclidean
	Manhattan
	Minkowski
)

var metricNames = []string{"pearson", "euclidean", "manhattan", "minkowski"}

func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return metricNames[m]
}

func ParseMetric(s string) (Metric, error) {
	for i, name := range metricNames {
		if s == name {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown distance metric %q (valid: %q)", ErrInvalidArgument, s, metricNames)
}

// pearsonDistance returns 1 - r. Identical vectors are exactly 0 apart
// and exactly anti-correlated vectors are 2 apart.
func pearsonDistance(a, b []float64) float64 {
	ma, mb := stat.Mean(a, nil), stat.Mean(b, nil)
	var sab, saa, sbb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		sab += da * db
		saa += da * da
		sbb += db * db
	}
	r := sab / math.Sqrt(saa*sbb)
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return 1 - r
}

// pairwiseDistances returns the symmetric matrix of distances between
// all pairs of vecs. labels name the vectors in error messages.
func pairwiseDistances(vecs [][]float64, labels []string, metric Metric, p float64, threads int) (*mat.SymDense, error) {
	n := len(vecs)
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ErrInvalidArgument)
	}
	for i, v := range vecs {
		if len(v) != len(vecs[0]) {
			return nil, fmt.Errorf("%w: vector %q has length %d, expected %d", ErrInvalidArgument, labels[i], len(v), len(vecs[0]))
		}
	}
	var dist func(a, b []float64) float64
	switch metric {
	case Pearson:
		for i, v := range vecs {
			if len(v) < 2 || !(stat.Variance(v, nil) > 0) {
				return nil, fmt.Errorf("%w: %q has zero variance, pearson correlation is undefined", ErrDegenerateRow, labels[i])
			}
		}
		dist = pearsonDistance
	case Euclidean:
		dist = func(a, b []float64) float64 { return floats.Distance(a, b, 2) }
	case Manhattan:
		dist = func(a, b []float64) float64 { return floats.Distance(a, b, 1) }
	case Minkowski:
		if !(p >= 1) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: minkowski power %v must be >= 1", ErrInvalidArgument, p)
		}
		dist = func(a, b []float64) float64 { return floats.Distance(a, b, p) }
	default:
		return nil, fmt.Errorf("%w: unknown distance metric %d", ErrInvalidArgument, int(metric))
	}

	d := mat.NewSymDense(n, nil)
	thr := throttle{Max: threads}
	for i := 0; i < n; i++ {
		i := i
		thr.Go(func() error {
			for j := i + 1; j < n; j++ {
				x := dist(vecs[i], vecs[j])
				if math.IsNaN(x) {
					return fmt.Errorf("%w: distance between %q and %q is NaN", ErrInvalidArgument, labels[i], labels[j])
				}
				d.SetSym(i, j, x)
			}
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

func matrixRows(m *mat.Dense) [][]float64 {
	rows, _ := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

func matrixCols(m *mat.Dense) [][]float64 {
	_, cols := m.Dims()
	out := make([][]float64, cols)
	for j := range out {
		out[j] = mat.Col(nil, j, m)
	}
	return out
}
