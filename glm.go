// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"fmt"
	"io"
	"log"
	"math"
	"sort"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// glmPvalue returns the p-value of a likelihood-ratio test comparing a
// logistic regression of outcome on cluster membership against an
// intercept-only model. It returns NaN if either model cannot be
// fitted.
func glmPvalue(outcome []bool, clusters []int) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()
	if len(outcome) != len(clusters) || len(outcome) == 0 {
		return math.NaN()
	}

	y := make([]statmodel.Dtype, len(outcome))
	constants := make([]statmodel.Dtype, len(outcome))
	for i, o := range outcome {
		if o {
			y[i] = 1
		}
		constants[i] = 1
	}

	// one indicator per cluster except the lowest-numbered, which is
	// absorbed by the intercept
	ids := map[int]bool{}
	for _, id := range clusters {
		ids[id] = true
	}
	var levels []int
	for id := range ids {
		levels = append(levels, id)
	}
	sort.Ints(levels)
	if len(levels) < 2 {
		return 1
	}
	data := [][]statmodel.Dtype{y, constants}
	names := []string{"outcome", "constants"}
	for _, id := range levels[1:] {
		indicator := make([]statmodel.Dtype, len(clusters))
		for i, c := range clusters {
			if c == id {
				indicator[i] = 1
			}
		}
		data = append(data, indicator)
		names = append(names, fmt.Sprintf("cluster%d", id))
	}

	null, err := glm.NewGLM(statmodel.NewDataset(data[:2], names[:2]), "outcome", names[1:2], glmConfig)
	if err != nil {
		return math.NaN()
	}
	logNull := null.Fit().LogLike()

	full, err := glm.NewGLM(statmodel.NewDataset(data, names), "outcome", names[1:], glmConfig)
	if err != nil {
		return math.NaN()
	}
	logFull := full.Fit().LogLike()

	dist := distuv.ChiSquared{K: float64(len(levels) - 1)}
	return dist.Survival(-2 * (logNull - logFull))
}
