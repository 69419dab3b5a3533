// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"errors"
	"math"
	"math/rand"

	"gopkg.in/check.v1"
)

type distanceSuite struct{}

var _ = check.Suite(&distanceSuite{})

func (s *distanceSuite) TestParseMetric(c *check.C) {
	for _, name := range []string{"pearson", "euclidean", "manhattan", "minkowski"} {
		m, err := ParseMetric(name)
		c.Check(err, check.IsNil)
		c.Check(m.String(), check.Equals, name)
	}
	_, err := ParseMetric("cosine")
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)
}

func (s *distanceSuite) TestPearson(c *check.C) {
	rnd := rand.New(rand.NewSource(1))
	for trial := 0; trial < 100; trial++ {
		a := make([]float64, 3+rnd.Intn(20))
		neg := make([]float64, len(a))
		for i := range a {
			a[i] = rnd.NormFloat64() * 10
			neg[i] = -a[i]
		}
		c.Check(pearsonDistance(a, a), check.Equals, 0.0)
		c.Check(pearsonDistance(a, neg), check.Equals, 2.0)
	}
	c.Check(math.Abs(pearsonDistance([]float64{1, 2, 3}, []float64{10, 20, 30})) < 1e-12, check.Equals, true)
	c.Check(math.Abs(pearsonDistance([]float64{1, 2, 3, 4}, []float64{1, -1, -1, 1})-1) < 1e-12, check.Equals, true)
}

func (s *distanceSuite) TestPairwise(c *check.C) {
	vecs := [][]float64{{0, 0}, {3, 4}, {1, 1}}
	labels := []string{"a", "b", "c"}
	for _, trial := range []struct {
		metric Metric
		p      float64
		ab     float64
		ac     float64
	}{
		{Euclidean, 0, 5, math.Sqrt2},
		{Manhattan, 0, 7, 2},
		{Minkowski, 1, 7, 2},
		{Minkowski, 2, 5, math.Sqrt2},
		{Minkowski, 3, math.Cbrt(91), math.Cbrt(2)},
	} {
		d, err := pairwiseDistances(vecs, labels, trial.metric, trial.p, 2)
		c.Assert(err, check.IsNil)
		c.Check(math.Abs(d.At(0, 1)-trial.ab) < 1e-12, check.Equals, true, check.Commentf("%s p=%v: %v", trial.metric, trial.p, d.At(0, 1)))
		c.Check(math.Abs(d.At(0, 2)-trial.ac) < 1e-12, check.Equals, true, check.Commentf("%s p=%v: %v", trial.metric, trial.p, d.At(0, 2)))
		for i := 0; i < 3; i++ {
			c.Check(d.At(i, i), check.Equals, 0.0)
			for j := 0; j < 3; j++ {
				c.Check(d.At(i, j), check.Equals, d.At(j, i))
			}
		}
	}

	_, err := pairwiseDistances(vecs, labels, Minkowski, 0.5, 1)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)
	_, err = pairwiseDistances(vecs, labels, Metric(9), 0, 1)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)
	_, err = pairwiseDistances([][]float64{{1, 2}, {1}}, []string{"a", "b"}, Euclidean, 0, 1)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)

	_, err = pairwiseDistances([][]float64{{1, 2, 3}, {4, 4, 4}}, []string{"x", "flat"}, Pearson, 0, 1)
	c.Check(errors.Is(err, ErrDegenerateRow), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*"flat".*`)

	d, err := pairwiseDistances([][]float64{{1, 2, 3}, {3, 2, 1}, {2, 4, 6}}, []string{"x", "y", "z"}, Pearson, 0, 4)
	c.Assert(err, check.IsNil)
	c.Check(d.At(0, 1), check.Equals, 2.0)
	c.Check(math.Abs(d.At(0, 2)) < 1e-12, check.Equals, true)
}
