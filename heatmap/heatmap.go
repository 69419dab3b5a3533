// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package heatmap maps numeric matrices to grids of colors using a
// piecewise-linear palette.
package heatmap

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrInvalidArgument = errors.New("invalid argument")

type ControlPoint struct {
	Position float64
	R, G, B  float64
}

// Palette is a list of control points sorted by position.
type Palette []ControlPoint

// RdBu is the 11-point diverging ColorBrewer red-blue scale, ordered
// blue (low) to red (high).
var RdBu = Palette{
	{0.0, 5, 48, 97},
	{0.1, 33, 102, 172},
	{0.2, 67, 147, 195},
	{0.3, 146, 197, 222},
	{0.4, 209, 229, 240},
	{0.5, 247, 247, 247},
	{0.6, 253, 219, 199},
	{0.7, 244, 165, 130},
	{0.8, 214, 96, 77},
	{0.9, 178, 24, 43},
	{1.0, 103, 0, 31},
}

func (p Palette) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty palette", ErrInvalidArgument)
	}
	for i, cp := range p {
		if !(cp.Position >= 0 && cp.Position <= 1) {
			return fmt.Errorf("%w: control point %d position %v outside [0,1]", ErrInvalidArgument, i, cp.Position)
		}
		if i > 0 && cp.Position <= p[i-1].Position {
			return fmt.Errorf("%w: control point %d position %v not after %v", ErrInvalidArgument, i, cp.Position, p[i-1].Position)
		}
		for _, v := range []float64{cp.R, cp.G, cp.B} {
			if !(v >= 0 && v <= 255) {
				return fmt.Errorf("%w: control point %d channel value %v outside [0,255]", ErrInvalidArgument, i, v)
			}
		}
	}
	return nil
}

// ColorAt interpolates each channel linearly between the control
// points surrounding pos. Positions outside the palette's range get
// the color of the nearest end point. An empty palette yields
// transparent black.
func (p Palette) ColorAt(pos float64) color.RGBA {
	if len(p) == 0 {
		return color.RGBA{}
	}
	if pos <= p[0].Position {
		return p[0].rgba()
	}
	for i := 1; i < len(p); i++ {
		if pos < p[i].Position {
			lo, hi := p[i-1], p[i]
			f := (pos - lo.Position) / (hi.Position - lo.Position)
			return ControlPoint{
				R: lo.R + f*(hi.R-lo.R),
				G: lo.G + f*(hi.G-lo.G),
				B: lo.B + f*(hi.B-lo.B),
			}.rgba()
		}
	}
	return p[len(p)-1].rgba()
}

func (cp ControlPoint) rgba() color.RGBA {
	return color.RGBA{R: uint8(math.Round(cp.R)), G: uint8(math.Round(cp.G)), B: uint8(math.Round(cp.B)), A: 255}
}

type Options struct {
	Palette Palette
	NColors int
	Min     float64
	Max     float64

	// If TopToBottom is true, grid row 0 shows matrix row 0.
	// Otherwise grid row 0 shows the last matrix row.
	TopToBottom bool
}

// DefaultOptions suit row-standardized data.
var DefaultOptions = Options{
	Palette:     RdBu,
	NColors:     100,
	Min:         -2,
	Max:         2,
	TopToBottom: true,
}

type Grid struct {
	Rows, Cols int
	Colors     []color.RGBA // row-major
}

func (g *Grid) At(row, col int) color.RGBA {
	return g.Colors[row*g.Cols+col]
}

// RGB returns the grid as a flat rows x cols x 3 array.
func (g *Grid) RGB() []uint8 {
	out := make([]uint8, 0, len(g.Colors)*3)
	for _, c := range g.Colors {
		out = append(out, c.R, c.G, c.B)
	}
	return out
}

// Bucket returns the palette bucket (0..n-1) for value v after
// clamping it into [min, max].
func Bucket(v, min, max float64, n int) int {
	if v < min {
		v = min
	} else if v > max {
		v = max
	}
	b := int((v - min) / (max - min) * float64(n))
	if b >= n {
		b = n - 1
	}
	return b
}

// Render clamps, rescales and quantizes every value of m into one of
// opts.NColors palette colors.
func Render(m mat.Matrix, opts Options) (*Grid, error) {
	if opts.NColors < 2 {
		return nil, fmt.Errorf("%w: need at least 2 colors, got %d", ErrInvalidArgument, opts.NColors)
	}
	if !(opts.Min < opts.Max) {
		return nil, fmt.Errorf("%w: value range [%v, %v] is empty", ErrInvalidArgument, opts.Min, opts.Max)
	}
	if err := opts.Palette.Validate(); err != nil {
		return nil, err
	}
	colors := make([]color.RGBA, opts.NColors)
	for b := range colors {
		colors[b] = opts.Palette.ColorAt(float64(b) / float64(opts.NColors-1))
	}
	rows, cols := m.Dims()
	g := &Grid{Rows: rows, Cols: cols, Colors: make([]color.RGBA, rows*cols)}
	for r := 0; r < rows; r++ {
		src := r
		if !opts.TopToBottom {
			src = rows - 1 - r
		}
		for c := 0; c < cols; c++ {
			v := m.At(src, c)
			if math.IsNaN(v) {
				return nil, fmt.Errorf("%w: NaN at row %d col %d", ErrInvalidArgument, src, c)
			}
			g.Colors[r*cols+c] = colors[Bucket(v, opts.Min, opts.Max, opts.NColors)]
		}
	}
	return g, nil
}
