// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package cluster implements hierarchical agglomerative clustering
// over a precomputed symmetric distance matrix.
package cluster

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Linkage determines the distance between two clusters from the
// pairwise distances between their members.
type Linkage int

const (
	Average Linkage = iota
	Complete
	Single
)

var linkageNames = []string{"average", "complete", "single"}

func (l Linkage) String() string {
	if l < 0 || int(l) >= len(linkageNames) {
		return fmt.Sprintf("Linkage(%d)", int(l))
	}
	return linkageNames[l]
}

// ParseLinkage returns the Linkage with the given name.
func ParseLinkage(s string) (Linkage, error) {
	for i, name := range linkageNames {
		if s == name {
			return Linkage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown linkage %q (expected one of %q)", ErrInvalidArgument, s, linkageNames)
}

// Lance-Williams update: distance from the cluster formed by merging
// i (size ni) and j (size nj) to some other cluster k.
func (l Linkage) update(dik, djk float64, ni, nj int) float64 {
	switch l {
	case Single:
		return math.Min(dik, djk)
	case Complete:
		return math.Max(dik, djk)
	default:
		return (float64(ni)*dik + float64(nj)*djk) / float64(ni+nj)
	}
}

// Distances within tieTolerance (relative) of each other are treated
// as equal when choosing the next merge.
const tieTolerance = 1e-12

// closer reports whether a is less than b by more than tieTolerance.
func closer(a, b float64) bool {
	return a < b && (math.IsInf(b, 1) || b-a > tieTolerance*math.Max(math.Abs(a), math.Abs(b)))
}

// Agglomerate builds a dendrogram over the N items of the N x N
// distance matrix d.
//
// Each active cluster is identified by the smallest leaf index it
// contains. When several pairs share the minimum distance, the pair
// (i, j), i < j, that sorts first lexicographically is merged, so the
// result does not depend on anything but d and the linkage. Distances
// that agree to within a relative 1e-12 count as equal.
func Agglomerate(d mat.Symmetric, linkage Linkage) (*Dendrogram, error) {
	if linkage < Average || linkage > Single {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, linkage)
	}
	n, _ := d.Dims()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty distance matrix", ErrInvalidArgument)
	}
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			v := d.At(i, j)
			if math.IsNaN(v) || v < 0 {
				return nil, fmt.Errorf("%w: distance (%d,%d) is %v", ErrInvalidArgument, i, j, v)
			}
			dist[i][j] = v
		}
	}

	active := make([]bool, n)
	size := make([]int, n)
	node := make([]int, n)
	for i := range active {
		active[i] = true
		size[i] = 1
		node[i] = i
	}

	// nn[i] is the nearest active j > i (smallest j on ties), or -1.
	nn := make([]int, n)
	nnDist := make([]float64, n)
	nearest := func(i int) {
		nn[i] = -1
		for j := i + 1; j < n; j++ {
			if active[j] && (nn[i] < 0 || closer(dist[i][j], nnDist[i])) {
				nn[i], nnDist[i] = j, dist[i][j]
			}
		}
	}
	for i := range nn {
		nearest(i)
	}

	dg := &Dendrogram{Leaves: n, Merges: make([]Merge, 0, n-1)}
	for step := 0; step < n-1; step++ {
		i := -1
		for k := 0; k < n; k++ {
			if active[k] && nn[k] >= 0 && (i < 0 || closer(nnDist[k], nnDist[i])) {
				i = k
			}
		}
		j := nn[i]
		dg.Merges = append(dg.Merges, Merge{
			Left:   node[i],
			Right:  node[j],
			Height: nnDist[i],
			Size:   size[i] + size[j],
		})

		for k := 0; k < n; k++ {
			if !active[k] || k == i || k == j {
				continue
			}
			v := linkage.update(dist[i][k], dist[j][k], size[i], size[j])
			dist[i][k], dist[k][i] = v, v
		}
		active[j] = false
		size[i] += size[j]
		node[i] = n + step

		nearest(i)
		for k := 0; k < j; k++ {
			if !active[k] || k == i {
				continue
			}
			if nn[k] == i || nn[k] == j {
				nearest(k)
			} else if k < i && (closer(dist[k][i], nnDist[k]) || (!closer(nnDist[k], dist[k][i]) && i < nn[k])) {
				nn[k], nnDist[k] = i, dist[k][i]
			}
		}
	}
	return dg, nil
}
