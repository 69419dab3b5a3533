// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"math"

	"gopkg.in/check.v1"
)

type glmSuite struct{}

var _ = check.Suite(&glmSuite{})

func (s *glmSuite) TestPvalue(c *check.C) {
	var outcome []bool
	var clusters []int
	// cluster 1: 18 positive, 2 negative; cluster 2: 2 positive, 18 negative
	for i := 0; i < 40; i++ {
		clusters = append(clusters, 1+i/20)
		outcome = append(outcome, (i < 20) == (i%20 < 18))
	}
	p := glmPvalue(outcome, clusters)
	c.Check(p < 0.01, check.Equals, true, check.Commentf("p = %v", p))

	// half positive in each cluster
	for i := range outcome {
		outcome[i] = i%2 == 0
	}
	p = glmPvalue(outcome, clusters)
	c.Check(p > 0.5, check.Equals, true, check.Commentf("p = %v", p))

	c.Check(glmPvalue(outcome, make([]int, len(outcome))), check.Equals, 1.0)
	c.Check(math.IsNaN(glmPvalue(outcome, clusters[:3])), check.Equals, true)
}
