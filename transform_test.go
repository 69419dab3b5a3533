// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/check.v1"
)

type transformSuite struct{}

var _ = check.Suite(&transformSuite{})

func (s *transformSuite) TestLogTransform(c *check.C) {
	m := plantedBlocks(2)
	for _, pc := range []float64{1, 0.5, 3} {
		out, err := logTransform(m, pc)
		c.Assert(err, check.IsNil)
		rows, cols := out.Data.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				back := math.Pow(2, out.Data.At(i, j)) - pc
				c.Check(math.Abs(back-m.Data.At(i, j)) < 1e-9, check.Equals, true)
			}
		}
	}
	out, err := logTransform(&ExpressionMatrix{Genes: []string{"G"}, Samples: []string{"A", "B"}, Data: mat.NewDense(1, 2, []float64{0, 3})}, 1)
	c.Assert(err, check.IsNil)
	c.Check(out.Data.RawRowView(0), check.DeepEquals, []float64{0, 2})

	for _, pc := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := logTransform(m, pc)
		c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true, check.Commentf("%v", pc))
	}
}

func (s *transformSuite) TestStandardizeRows(c *check.C) {
	m, err := logTransform(plantedBlocks(3), 1)
	c.Assert(err, check.IsNil)
	z, err := standardizeRows(m)
	c.Assert(err, check.IsNil)
	rows, _ := z.Data.Dims()
	for i := 0; i < rows; i++ {
		mean, variance := stat.MeanVariance(z.Data.RawRowView(i), nil)
		c.Check(math.Abs(mean) < 1e-9, check.Equals, true)
		c.Check(math.Abs(variance-1) < 1e-9, check.Equals, true)
	}
	// input unchanged
	c.Check(m.Data.At(0, 0) > 2, check.Equals, true)

	m.Data.SetRow(4, make([]float64, 20))
	_, err = standardizeRows(m)
	c.Check(errors.Is(err, ErrDegenerateRow), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*"GENE4".*`)
}

func (s *transformSuite) TestTopVariance(c *check.C) {
	m := mat.NewDense(5, 3, []float64{
		1, 1, 1,
		0, 5, 10,
		1, 2, 3,
		3, 2, 1,
		0, 10, 20,
	})
	for _, threads := range []int{1, 2, 8} {
		idx, err := topVariance(m, 5, threads)
		c.Assert(err, check.IsNil)
		c.Check(idx, check.DeepEquals, []int{4, 1, 2, 3, 0})
		idx, err = topVariance(m, 3, threads)
		c.Assert(err, check.IsNil)
		c.Check(idx, check.DeepEquals, []int{4, 1, 2})
	}
	for _, k := range []int{0, 6, -1} {
		_, err := topVariance(m, k, 2)
		c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)
	}

	e := plantedBlocks(4)
	e.Data.SetRow(7, make([]float64, 20))
	idx, err := topVariance(e.Data, 9, 4)
	c.Assert(err, check.IsNil)
	for _, i := range idx {
		c.Check(i, check.Not(check.Equals), 7)
	}
	sub := e.SelectRows(idx)
	c.Check(sub.Genes[0], check.Equals, e.Genes[idx[0]])
	c.Check(sub.Data.RawRowView(8), check.DeepEquals, e.Data.RawRowView(idx[8]))
}
