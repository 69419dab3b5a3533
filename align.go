// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Aligned holds the three input tables restricted and reordered to a
// common, sorted list of sample ids.
type Aligned struct {
	SampleKey  []string
	Expression *ExpressionMatrix
	ClinicalA  *CovariateTable
	ClinicalB  *CovariateTable
}

// Align intersects the sample ids of the expression table and both
// clinical tables. The result has at least minSamples samples, or
// Align fails with ErrAlignment. The inputs are not modified.
func Align(expr *ExpressionMatrix, clinA, clinB *CovariateTable, minSamples int) (*Aligned, error) {
	if minSamples < 1 {
		return nil, fmt.Errorf("%w: minimum sample count %d < 1", ErrInvalidArgument, minSamples)
	}
	count := map[string]int{}
	for _, ids := range [][]string{expr.Samples, clinA.Samples, clinB.Samples} {
		seen := map[string]bool{}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				count[id]++
			}
		}
	}
	var key []string
	for id, n := range count {
		if n == 3 {
			key = append(key, id)
		}
	}
	sort.Strings(key)
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: no sample ids in common (expression %d, clinical A %d, clinical B %d)", ErrAlignment, len(expr.Samples), len(clinA.Samples), len(clinB.Samples))
	}
	if len(key) < minSamples {
		return nil, fmt.Errorf("%w: only %d samples in common, need at least %d", ErrAlignment, len(key), minSamples)
	}
	for _, t := range []struct {
		label string
		ids   []string
	}{
		{"expression", expr.Samples},
		{"clinical A", clinA.Samples},
		{"clinical B", clinB.Samples},
	} {
		var dropped []string
		for _, id := range t.ids {
			if count[id] < 3 {
				dropped = append(dropped, id)
			}
		}
		if len(dropped) > 0 {
			log.Infof("align: dropping %d of %d samples from %s table", len(dropped), len(t.ids), t.label)
			if len(dropped) > 5 {
				dropped = dropped[:5]
			}
			log.Debugf("align: dropped from %s: %q", t.label, dropped)
		}
	}

	a := &Aligned{SampleKey: key}
	var err error
	a.Expression, err = expr.Reindex(key)
	if err != nil {
		return nil, err
	}
	a.ClinicalA, err = clinA.Reindex(key, "clinical A table")
	if err != nil {
		return nil, err
	}
	a.ClinicalB, err = clinB.Reindex(key, "clinical B table")
	if err != nil {
		return nil, err
	}
	log.Infof("align: %d samples in common", len(key))
	return a, nil
}
