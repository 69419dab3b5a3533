// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// writeNumpy creates fnm and calls write with a gonpy writer whose
// Shape is already set.
func writeNumpy(fnm string, shape []int, write func(*gonpy.NpyWriter) error) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<20)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return fmt.Errorf("gonpy.NewWriter: %w", err)
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"shape":    shape,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = shape
	err = write(npw)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func writeNumpyMatrix(fnm string, m mat.Matrix) error {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return writeNumpy(fnm, []int{rows, cols}, func(npw *gonpy.NpyWriter) error {
		return npw.WriteFloat64(out)
	})
}

func writeNumpyUint8(fnm string, out []uint8, shape ...int) error {
	return writeNumpy(fnm, shape, func(npw *gonpy.NpyWriter) error {
		return npw.WriteUint8(out)
	})
}

// readNumpyMatrix reads a 2-dimensional float64 array.
func readNumpyMatrix(fnm string) (*mat.Dense, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrLoad, fnm, err)
	}
	if len(npy.Shape) != 2 || npy.Shape[0] < 1 || npy.Shape[1] < 1 {
		return nil, fmt.Errorf("%w: %s: shape %v is not a 2-dimensional matrix", ErrLoad, fnm, npy.Shape)
	}
	data, err := npy.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrLoad, fnm, err)
	}
	if npy.ColumnMajor {
		return mat.DenseCopyOf(mat.NewDense(npy.Shape[1], npy.Shape[0], data).T()), nil
	}
	return mat.NewDense(npy.Shape[0], npy.Shape[1], data), nil
}
