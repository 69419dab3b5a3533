// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cluster

import "fmt"

// Merge joins two nodes. Node ids below Dendrogram.Leaves are leaves;
// the t'th merge creates node Leaves+t.
type Merge struct {
	Left   int
	Right  int
	Height float64
	Size   int // number of leaves below the new node
}

// Dendrogram is a binary merge tree over Leaves leaves, with merges
// listed in the order they were performed.
type Dendrogram struct {
	Leaves int
	Merges []Merge
}

// Root returns the node id of the root.
func (dg *Dendrogram) Root() int {
	return dg.Leaves + len(dg.Merges) - 1
}

// Cut assigns each leaf to one of k groups by undoing the k-1 highest
// merges. Merges at equal height are undone latest-first. Group ids
// are 1..k, numbered in order of each group's smallest leaf.
func (dg *Dendrogram) Cut(k int) ([]int, error) {
	n := dg.Leaves
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: k=%d out of range 1..%d (leaf count)", ErrInvalidArgument, k, n)
	}
	if len(dg.Merges) != n-1 {
		return nil, fmt.Errorf("%w: dendrogram over %d leaves has %d merges", ErrInvalidArgument, n, len(dg.Merges))
	}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	// leaf[node] is any leaf below node
	leaf := make([]int, n+len(dg.Merges))
	for i := 0; i < n; i++ {
		leaf[i] = i
	}
	for t, m := range dg.Merges {
		leaf[n+t] = leaf[m.Left]
		if t >= n-k {
			continue
		}
		a, b := find(leaf[m.Left]), find(leaf[m.Right])
		if a < b {
			parent[b] = a
		} else {
			parent[a] = b
		}
	}
	ids := make([]int, n)
	group := map[int]int{}
	for i := range ids {
		root := find(i)
		id, ok := group[root]
		if !ok {
			id = len(group) + 1
			group[root] = id
		}
		ids[i] = id
	}
	return ids, nil
}

// LeafOrder returns the leaves in left-to-right order, suitable for
// reordering heatmap rows or columns.
func (dg *Dendrogram) LeafOrder() []int {
	n := dg.Leaves
	order := make([]int, 0, n)
	if len(dg.Merges) == 0 {
		for i := 0; i < n; i++ {
			order = append(order, i)
		}
		return order
	}
	stack := []int{dg.Root()}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id < n {
			order = append(order, id)
			continue
		}
		m := dg.Merges[id-n]
		stack = append(stack, m.Right, m.Left)
	}
	return order
}
