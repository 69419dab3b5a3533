// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type pcaSuite struct{}

var _ = check.Suite(&pcaSuite{})

func (s *pcaSuite) TestSeparatesBlocks(c *check.C) {
	expr := plantedBlocks(1)
	std, err := standardizeRows(expr)
	c.Assert(err, check.IsNil)
	pc, err := pcaEmbed(std.Data, 2)
	c.Assert(err, check.IsNil)
	rows, cols := pc.Dims()
	c.Check(rows, check.Equals, 20)
	c.Check(cols, check.Equals, 2)
	// first component puts the two sample blocks on opposite sides
	for j := 0; j < 20; j++ {
		c.Check(math.Signbit(pc.At(j, 0)) == math.Signbit(pc.At(0, 0)), check.Equals, j < 10, check.Commentf("sample %d", j))
	}

	_, err = pcaEmbed(mat.NewDense(3, 2, nil), 3)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)
}
