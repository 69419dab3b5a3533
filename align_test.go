// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type alignSuite struct{}

var _ = check.Suite(&alignSuite{})

func covariates(samples ...string) *CovariateTable {
	t := &CovariateTable{Samples: samples, Names: []string{"X"}, Kinds: []CovariateKind{Categorical}}
	for _, s := range samples {
		t.Values = append(t.Values, []string{"x" + s})
	}
	return t
}

func (s *alignSuite) TestAlign(c *check.C) {
	expr := &ExpressionMatrix{
		Genes:   []string{"G1", "G2"},
		Samples: []string{"D", "B", "A", "E"},
		Data: mat.NewDense(2, 4, []float64{
			4, 2, 1, 5,
			40, 20, 10, 50,
		}),
	}
	clinA := covariates("A", "B", "C", "D")
	clinB := covariates("E", "D", "B", "A", "Z")
	a, err := Align(expr, clinA, clinB, 3)
	c.Assert(err, check.IsNil)
	c.Check(a.SampleKey, check.DeepEquals, []string{"A", "B", "D"})
	c.Check(a.Expression.Samples, check.DeepEquals, a.SampleKey)
	c.Check(a.Expression.Data.RawRowView(0), check.DeepEquals, []float64{1, 2, 4})
	c.Check(a.Expression.Data.RawRowView(1), check.DeepEquals, []float64{10, 20, 40})
	c.Check(a.ClinicalA.Samples, check.DeepEquals, a.SampleKey)
	c.Check(a.ClinicalB.Samples, check.DeepEquals, a.SampleKey)
	x, err := a.ClinicalB.Column("X")
	c.Assert(err, check.IsNil)
	c.Check(x, check.DeepEquals, []string{"xA", "xB", "xD"})

	// inputs unchanged
	c.Check(expr.Samples, check.DeepEquals, []string{"D", "B", "A", "E"})
	c.Check(expr.Data.At(0, 0), check.Equals, 4.0)
	c.Check(clinB.Samples[0], check.Equals, "E")

	// a table's order does not affect the result
	b, err := Align(expr, covariates("D", "C", "B", "A"), clinB, 3)
	c.Assert(err, check.IsNil)
	c.Check(b.SampleKey, check.DeepEquals, a.SampleKey)
}

func (s *alignSuite) TestAlignErrors(c *check.C) {
	expr := &ExpressionMatrix{Genes: []string{"G"}, Samples: []string{"A", "B"}, Data: mat.NewDense(1, 2, []float64{1, 2})}
	_, err := Align(expr, covariates("C"), covariates("A", "B"), 1)
	c.Check(errors.Is(err, ErrAlignment), check.Equals, true)
	_, err = Align(expr, covariates("A", "B"), covariates("A", "B"), 3)
	c.Check(errors.Is(err, ErrAlignment), check.Equals, true)
	_, err = Align(expr, covariates("A", "B"), covariates("A", "B"), 0)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)
	a, err := Align(expr, covariates("A", "B"), covariates("B", "A"), 2)
	c.Check(err, check.IsNil)
	c.Check(a.SampleKey, check.DeepEquals, []string{"A", "B"})
}
