// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// Expected counts below this make the chi-square approximation
// unreliable.
const minExpectedCount = 5

// contingency counts items by (label, cluster). Labels and Clusters
// are sorted; Counts[i][j] is the number of items with label
// Labels[i] in cluster Clusters[j].
type contingency struct {
	Labels   []string
	Clusters []int
	Counts   [][]float64
}

func buildContingency(labels []string, clusters []int) (*contingency, error) {
	if len(labels) != len(clusters) {
		return nil, fmt.Errorf("%w: %d labels but %d cluster assignments", ErrInvalidArgument, len(labels), len(clusters))
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labeled items", ErrInvalidArgument)
	}
	row := map[string]int{}
	col := map[int]int{}
	for i := range labels {
		row[labels[i]] = 0
		col[clusters[i]] = 0
	}
	ct := &contingency{}
	for label := range row {
		ct.Labels = append(ct.Labels, label)
	}
	sort.Strings(ct.Labels)
	for id := range col {
		ct.Clusters = append(ct.Clusters, id)
	}
	sort.Ints(ct.Clusters)
	for i, label := range ct.Labels {
		row[label] = i
	}
	for j, id := range ct.Clusters {
		col[id] = j
	}
	ct.Counts = make([][]float64, len(ct.Labels))
	for i := range ct.Counts {
		ct.Counts[i] = make([]float64, len(ct.Clusters))
	}
	for i := range labels {
		ct.Counts[row[labels[i]]][col[clusters[i]]]++
	}
	return ct, nil
}

// WriteCSV writes the table with a header row of cluster ids and one
// row per label.
func (ct *contingency) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"Label"}
	for _, id := range ct.Clusters {
		header = append(header, fmt.Sprintf("Cluster%d", id))
	}
	cw.Write(header)
	for i, label := range ct.Labels {
		rec := []string{label}
		for _, n := range ct.Counts[i] {
			rec = append(rec, strconv.Itoa(int(n)))
		}
		cw.Write(rec)
	}
	cw.Flush()
	return cw.Error()
}

type chiSquareResult struct {
	Statistic   float64
	DF          int
	PValue      float64
	MinExpected float64
	LowExpected bool
}

// chiSquareTest runs Pearson's chi-square test of independence on ct.
// Small expected counts are reported in the result, not treated as an
// error.
func chiSquareTest(ct *contingency) chiSquareResult {
	r, c := len(ct.Labels), len(ct.Clusters)
	rowsum := make([]float64, r)
	colsum := make([]float64, c)
	var total float64
	for i := range ct.Counts {
		for j, n := range ct.Counts[i] {
			rowsum[i] += n
			colsum[j] += n
			total += n
		}
	}
	res := chiSquareResult{DF: (r - 1) * (c - 1), MinExpected: -1}
	for i := range ct.Counts {
		for j, n := range ct.Counts[i] {
			exp := rowsum[i] * colsum[j] / total
			if res.MinExpected < 0 || exp < res.MinExpected {
				res.MinExpected = exp
			}
			d := n - exp
			res.Statistic += d * d / exp
		}
	}
	if res.MinExpected < minExpectedCount {
		res.LowExpected = true
		log.Warnf("chi-square: smallest expected count is %.3g (< %d), p-value may be inaccurate", res.MinExpected, minExpectedCount)
	}
	if res.DF == 0 {
		res.Statistic, res.PValue = 0, 1
		return res
	}
	res.PValue = distuv.ChiSquared{K: float64(res.DF)}.Survival(res.Statistic)
	return res
}
