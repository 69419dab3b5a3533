// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// topVariance returns the indices of the k rows of m with the highest
// sample variance, highest first. Rows with equal variance keep their
// original relative order.
func topVariance(m *mat.Dense, k, threads int) ([]int, error) {
	rows, cols := m.Dims()
	if k < 1 || k > rows {
		return nil, fmt.Errorf("%w: cannot select %d of %d genes", ErrInvalidArgument, k, rows)
	}
	if cols < 2 {
		return nil, fmt.Errorf("%w: variance needs at least 2 samples, have %d", ErrInvalidArgument, cols)
	}
	if threads < 1 {
		threads = 1
	}
	variance := make([]float64, rows)
	thr := throttle{Max: threads}
	chunk := (rows + threads - 1) / threads
	for start := 0; start < rows; start += chunk {
		start, end := start, start+chunk
		if end > rows {
			end = rows
		}
		thr.Go(func() error {
			for i := start; i < end; i++ {
				variance[i] = stat.Variance(m.RawRowView(i), nil)
			}
			return nil
		})
	}
	thr.Wait()

	idx := make([]int, rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return variance[idx[a]] > variance[idx[b]]
	})
	return idx[:k], nil
}
