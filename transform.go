// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// logTransform returns log2(x + pseudocount) for every entry of m.
func logTransform(m *ExpressionMatrix, pseudocount float64) (*ExpressionMatrix, error) {
	if !(pseudocount > 0) || math.IsInf(pseudocount, 0) {
		return nil, fmt.Errorf("%w: pseudocount %v must be a positive number", ErrInvalidArgument, pseudocount)
	}
	out := &ExpressionMatrix{Genes: m.Genes, Samples: m.Samples, Data: &mat.Dense{}}
	out.Data.Apply(func(_, _ int, x float64) float64 {
		return math.Log2(x + pseudocount)
	}, m.Data)
	return out, nil
}

// standardizeRows returns row-wise z-scores, using the sample standard
// deviation. A row with zero (or undefined) variance cannot be
// standardized and causes ErrDegenerateRow.
func standardizeRows(m *ExpressionMatrix) (*ExpressionMatrix, error) {
	rows, cols := m.Data.Dims()
	out := &ExpressionMatrix{Genes: m.Genes, Samples: m.Samples, Data: mat.NewDense(rows, cols, nil)}
	for i := 0; i < rows; i++ {
		row := m.Data.RawRowView(i)
		mean, std := stat.MeanStdDev(row, nil)
		if !(std > 0) {
			return nil, fmt.Errorf("%w: gene %q has zero variance across %d samples", ErrDegenerateRow, m.Genes[i], cols)
		}
		for j, x := range row {
			out.Data.Set(i, j, (x-mean)/std)
		}
	}
	return out, nil
}
