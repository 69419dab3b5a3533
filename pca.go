// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"fmt"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// pcaEmbed projects the columns (samples) of a features x samples
// matrix onto its first principal components. The result has one row
// per sample and one column per component.
func pcaEmbed(m mat.Matrix, components int) (*mat.Dense, error) {
	rows, cols := m.Dims()
	if components < 1 || components > rows || components > cols {
		return nil, fmt.Errorf("%w: cannot compute %d principal components of a %d x %d matrix", ErrInvalidArgument, components, rows, cols)
	}
	log.Printf("pca: fitting %d components, %d features, %d samples", components, rows, cols)
	transformer := nlp.NewPCA(components)
	transformer.Fit(m)
	out, err := transformer.Transform(m)
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(out.T()), nil
}
