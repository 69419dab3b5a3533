// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package tsne computes exact t-distributed stochastic neighbor
// embeddings from a precomputed dissimilarity matrix.
package tsne

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrInvalidArgument = errors.New("invalid argument")

const (
	stopLyingIter  = 250
	momentumSwitch = 250
	minGain        = 0.01
	floor          = 1e-12
)

type Config struct {
	Perplexity        float64
	MaxIter           int
	LearningRate      float64
	EarlyExaggeration float64

	// Seed for the random initial coordinates. Two runs with the
	// same Seed, input and settings produce identical output.
	Seed uint64

	// If non-nil, Progress is called every 50 iterations and after
	// the last one, with the current KL divergence.
	Progress func(iter int, kl float64)
}

// DefaultConfig has everything but Seed filled in.
var DefaultConfig = Config{
	Perplexity:        30,
	MaxIter:           1000,
	LearningRate:      200,
	EarlyExaggeration: 12,
}

// Embed returns an N x 2 matrix of coordinates for the N items whose
// pairwise dissimilarities are given in d. It always runs cfg.MaxIter
// iterations.
func Embed(d mat.Matrix, cfg Config) (*mat.Dense, error) {
	n, err := validate(d, cfg)
	if err != nil {
		return nil, err
	}
	p := affinities(d, n, cfg.Perplexity)

	norm := distuv.Normal{Mu: 0, Sigma: 1e-4, Src: rand.NewSource(cfg.Seed)}
	y := make([]float64, n*2)
	for i := range y {
		y[i] = norm.Rand()
	}
	update := make([]float64, n*2)
	gains := make([]float64, n*2)
	for i := range gains {
		gains[i] = 1
	}
	grad := make([]float64, n*2)
	num := make([]float64, n*n)

	for iter := 0; iter < cfg.MaxIter; iter++ {
		exaggeration := 1.0
		if iter < stopLyingIter {
			exaggeration = cfg.EarlyExaggeration
		}
		momentum := 0.5
		if iter >= momentumSwitch {
			momentum = 0.8
		}

		sumNum := studentT(y, n, num)
		for i := range grad {
			grad[i] = 0
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := math.Max(num[i*n+j]/sumNum, floor)
				mult := (exaggeration*p[i*n+j] - q) * num[i*n+j]
				grad[i*2] += 4 * mult * (y[i*2] - y[j*2])
				grad[i*2+1] += 4 * mult * (y[i*2+1] - y[j*2+1])
			}
		}
		for i := range y {
			if (grad[i] > 0) != (update[i] > 0) {
				gains[i] += 0.2
			} else {
				gains[i] *= 0.8
			}
			if gains[i] < minGain {
				gains[i] = minGain
			}
			update[i] = momentum*update[i] - cfg.LearningRate*gains[i]*grad[i]
			y[i] += update[i]
		}
		center(y, n)

		if cfg.Progress != nil && ((iter+1)%50 == 0 || iter+1 == cfg.MaxIter) {
			cfg.Progress(iter+1, divergence(p, y, n, num))
		}
	}
	return mat.NewDense(n, 2, y), nil
}

func validate(d mat.Matrix, cfg Config) (int, error) {
	n, cols := d.Dims()
	if n != cols {
		return 0, fmt.Errorf("%w: distance matrix is %d x %d, not square", ErrInvalidArgument, n, cols)
	}
	if !(cfg.Perplexity > 1 && cfg.Perplexity < float64(n)) {
		return 0, fmt.Errorf("%w: perplexity %v must be > 1 and < %d (number of items)", ErrInvalidArgument, cfg.Perplexity, n)
	}
	if cfg.MaxIter < 1 {
		return 0, fmt.Errorf("%w: max iterations %d < 1", ErrInvalidArgument, cfg.MaxIter)
	}
	if !(cfg.LearningRate > 0) || !(cfg.EarlyExaggeration >= 1) {
		return 0, fmt.Errorf("%w: learning rate %v must be > 0 and early exaggeration %v >= 1", ErrInvalidArgument, cfg.LearningRate, cfg.EarlyExaggeration)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := d.At(i, j), d.At(j, i)
			if math.IsNaN(a) || math.IsInf(a, 0) || a < 0 {
				return 0, fmt.Errorf("%w: distance (%d,%d) is %v", ErrInvalidArgument, i, j, a)
			}
			if math.Abs(a-b) > 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
				return 0, fmt.Errorf("%w: distance matrix is not symmetric at (%d,%d): %v != %v", ErrInvalidArgument, i, j, a, b)
			}
		}
	}
	return n, nil
}

// affinities returns the symmetrized joint probabilities P (n x n,
// row-major), calibrating each point's Gaussian bandwidth so the
// conditional distribution has the requested perplexity.
func affinities(d mat.Matrix, n int, perplexity float64) []float64 {
	d2 := make([]float64, n*n)
	max := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := d.At(i, j)
			d2[i*n+j] = v * v
			if v*v > max {
				max = v * v
			}
		}
	}
	if max > 0 {
		for i := range d2 {
			d2[i] /= max
		}
	}

	logU := math.Log(perplexity)
	cond := make([]float64, n*n)
	row := make([]float64, n)
	for i := 0; i < n; i++ {
		// shift by the nearest neighbor's distance so at least one
		// term is 1; entropy is unaffected
		min := math.Inf(1)
		for j := 0; j < n; j++ {
			if j != i && d2[i*n+j] < min {
				min = d2[i*n+j]
			}
		}
		beta, betaMin, betaMax := 1.0, math.Inf(-1), math.Inf(1)
		var sum float64
		for tries := 0; tries < 200; tries++ {
			sum = 0
			var dp float64
			for j := 0; j < n; j++ {
				if j == i {
					row[j] = 0
					continue
				}
				row[j] = math.Exp(-beta * (d2[i*n+j] - min))
				sum += row[j]
				dp += (d2[i*n+j] - min) * row[j]
			}
			h := math.Log(sum) + beta*dp/sum
			diff := h - logU
			if math.Abs(diff) < 1e-5 {
				break
			}
			if diff > 0 {
				betaMin = beta
				if math.IsInf(betaMax, 1) {
					beta *= 2
				} else {
					beta = (beta + betaMax) / 2
				}
			} else {
				betaMax = beta
				if math.IsInf(betaMin, -1) {
					beta /= 2
				} else {
					beta = (beta + betaMin) / 2
				}
			}
		}
		for j := 0; j < n; j++ {
			cond[i*n+j] = row[j] / sum
		}
	}

	p := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				p[i*n+j] = math.Max((cond[i*n+j]+cond[j*n+i])/float64(2*n), floor)
			}
		}
	}
	return p
}

// studentT fills num with the unnormalized Student-t kernel between
// embedded points and returns its sum.
func studentT(y []float64, n int, num []float64) float64 {
	var sum float64
	for i := 0; i < n; i++ {
		num[i*n+i] = 0
		for j := i + 1; j < n; j++ {
			dx, dy := y[i*2]-y[j*2], y[i*2+1]-y[j*2+1]
			v := 1 / (1 + dx*dx + dy*dy)
			num[i*n+j], num[j*n+i] = v, v
			sum += 2 * v
		}
	}
	return sum
}

func divergence(p, y []float64, n int, num []float64) float64 {
	sum := studentT(y, n, num)
	var kl float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				q := math.Max(num[i*n+j]/sum, floor)
				kl += p[i*n+j] * math.Log(p[i*n+j]/q)
			}
		}
	}
	return kl
}

func center(y []float64, n int) {
	var mx, my float64
	for i := 0; i < n; i++ {
		mx += y[i*2]
		my += y[i*2+1]
	}
	mx /= float64(n)
	my /= float64(n)
	for i := 0; i < n; i++ {
		y[i*2] -= mx
		y[i*2+1] -= my
	}
}
