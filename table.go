// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/mat"
)

// ExpressionMatrix holds non-negative counts, one row per gene and one
// column per sample.
type ExpressionMatrix struct {
	Genes   []string
	Samples []string
	Data    *mat.Dense
}

// SelectRows returns a new matrix with the given rows, in the given
// order.
func (m *ExpressionMatrix) SelectRows(idx []int) *ExpressionMatrix {
	_, cols := m.Data.Dims()
	out := &ExpressionMatrix{
		Genes:   make([]string, len(idx)),
		Samples: append([]string(nil), m.Samples...),
		Data:    mat.NewDense(len(idx), cols, nil),
	}
	for i, row := range idx {
		out.Genes[i] = m.Genes[row]
		out.Data.SetRow(i, m.Data.RawRowView(row))
	}
	return out
}

// Reindex returns a new matrix whose columns are the given samples, in
// the given order.
func (m *ExpressionMatrix) Reindex(samples []string) (*ExpressionMatrix, error) {
	pos := make(map[string]int, len(m.Samples))
	for i, s := range m.Samples {
		pos[s] = i
	}
	rows, _ := m.Data.Dims()
	out := &ExpressionMatrix{
		Genes:   append([]string(nil), m.Genes...),
		Samples: append([]string(nil), samples...),
		Data:    mat.NewDense(rows, len(samples), nil),
	}
	for j, s := range samples {
		src, ok := pos[s]
		if !ok {
			return nil, fmt.Errorf("%w: sample %q missing from expression table", ErrAlignment, s)
		}
		for i := 0; i < rows; i++ {
			out.Data.Set(i, j, m.Data.At(i, src))
		}
	}
	return out, nil
}

type CovariateKind int

const (
	Numeric CovariateKind = iota
	Categorical
)

func (k CovariateKind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// CovariateTable holds per-sample clinical attributes. Values[i][j] is
// covariate Names[j] of sample Samples[i].
type CovariateTable struct {
	Samples []string
	Names   []string
	Kinds   []CovariateKind
	Values  [][]string
}

func (t *CovariateTable) column(name string) (int, bool) {
	for j, n := range t.Names {
		if n == name {
			return j, true
		}
	}
	return 0, false
}

// Column returns the raw values of the named covariate, in sample
// order. Missing values are returned as "".
func (t *CovariateTable) Column(name string) ([]string, error) {
	j, ok := t.column(name)
	if !ok {
		return nil, fmt.Errorf("%w: no covariate column %q", ErrInvalidArgument, name)
	}
	out := make([]string, len(t.Samples))
	for i, row := range t.Values {
		if !isMissing(row[j]) {
			out[i] = row[j]
		}
	}
	return out, nil
}

// numeric returns the named covariate as numbers, with NaN for missing
// values.
func (t *CovariateTable) numeric(name string) ([]float64, error) {
	j, ok := t.column(name)
	if !ok {
		return nil, fmt.Errorf("%w: no covariate column %q", ErrInvalidArgument, name)
	}
	if t.Kinds[j] != Numeric {
		return nil, fmt.Errorf("%w: covariate %q is %s", ErrInvalidArgument, name, t.Kinds[j])
	}
	out := make([]float64, len(t.Samples))
	for i, row := range t.Values {
		if isMissing(row[j]) {
			out[i] = math.NaN()
		} else {
			out[i], _ = strconv.ParseFloat(row[j], 64)
		}
	}
	return out, nil
}

// Reindex returns a new table with rows for the given samples, in the
// given order.
func (t *CovariateTable) Reindex(samples []string, label string) (*CovariateTable, error) {
	pos := make(map[string]int, len(t.Samples))
	for i, s := range t.Samples {
		pos[s] = i
	}
	out := &CovariateTable{
		Samples: append([]string(nil), samples...),
		Names:   t.Names,
		Kinds:   t.Kinds,
		Values:  make([][]string, len(samples)),
	}
	for i, s := range samples {
		src, ok := pos[s]
		if !ok {
			return nil, fmt.Errorf("%w: sample %q missing from %s", ErrAlignment, s, label)
		}
		out.Values[i] = t.Values[src]
	}
	return out, nil
}

func isMissing(v string) bool {
	switch v {
	case "", "NA", "NaN", "[Not Available]":
		return true
	}
	return false
}

// readTable returns the header and data records of a tab- or
// comma-delimited file, skipping "#" comment lines.
func readTable(fnm string) ([]string, [][]string, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrLoad, err)
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrLoad, fnm, err)
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"bytes":    len(buf),
		"blake2b":  fmt.Sprintf("%x", blake2b.Sum256(buf)),
	}).Info("read table")

	delim := ','
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if bytes.IndexByte(line, '\t') >= 0 {
			delim = '\t'
		}
		break
	}
	rdr := csv.NewReader(bytes.NewReader(buf))
	rdr.Comma = delim
	rdr.Comment = '#'
	rdr.LazyQuotes = true
	records, err := rdr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrLoad, fnm, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: %s: no header", ErrLoad, fnm)
	}
	for _, rec := range records {
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
	}
	return records[0], records[1:], nil
}

func loadExpression(fnm string) (*ExpressionMatrix, error) {
	header, records, err := readTable(fnm)
	if err != nil {
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: %s: header has no sample columns", ErrLoad, fnm)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: no gene rows", ErrLoad, fnm)
	}
	m := &ExpressionMatrix{
		Samples: header[1:],
		Genes:   make([]string, len(records)),
		Data:    mat.NewDense(len(records), len(header)-1, nil),
	}
	if i := firstEmpty(m.Samples); i >= 0 {
		return nil, fmt.Errorf("%w: %s: empty sample id in header column %d", ErrLoad, fnm, i+2)
	}
	if dup, ok := firstDuplicate(m.Samples); ok {
		return nil, fmt.Errorf("%w: %s: duplicate sample id %q", ErrLoad, fnm, dup)
	}
	for i, rec := range records {
		m.Genes[i] = rec[0]
		for j, s := range rec[1:] {
			x, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: %s: gene %q sample %q: cannot parse count %q", ErrLoad, fnm, rec[0], m.Samples[j], s)
			}
			if x < 0 {
				return nil, fmt.Errorf("%w: %s: gene %q sample %q: negative count %v", ErrLoad, fnm, rec[0], m.Samples[j], x)
			}
			m.Data.Set(i, j, x)
		}
	}
	if i := firstEmpty(m.Genes); i >= 0 {
		return nil, fmt.Errorf("%w: %s: empty gene id in data row %d", ErrLoad, fnm, i+1)
	}
	if dup, ok := firstDuplicate(m.Genes); ok {
		return nil, fmt.Errorf("%w: %s: duplicate gene id %q", ErrLoad, fnm, dup)
	}
	log.Infof("loaded expression table %s: %d genes, %d samples", fnm, len(m.Genes), len(m.Samples))
	return m, nil
}

func loadCovariates(fnm string) (*CovariateTable, error) {
	header, records, err := readTable(fnm)
	if err != nil {
		return nil, err
	}
	t := &CovariateTable{
		Names:   header[1:],
		Kinds:   make([]CovariateKind, len(header)-1),
		Samples: make([]string, len(records)),
		Values:  make([][]string, len(records)),
	}
	if i := firstEmpty(t.Names); i >= 0 {
		return nil, fmt.Errorf("%w: %s: empty covariate name in header column %d", ErrLoad, fnm, i+2)
	}
	if dup, ok := firstDuplicate(t.Names); ok {
		return nil, fmt.Errorf("%w: %s: duplicate covariate name %q", ErrLoad, fnm, dup)
	}
	for i, rec := range records {
		t.Samples[i] = rec[0]
		t.Values[i] = rec[1:]
	}
	if i := firstEmpty(t.Samples); i >= 0 {
		return nil, fmt.Errorf("%w: %s: empty sample id in data row %d", ErrLoad, fnm, i+1)
	}
	if dup, ok := firstDuplicate(t.Samples); ok {
		return nil, fmt.Errorf("%w: %s: duplicate sample id %q", ErrLoad, fnm, dup)
	}
	for j := range t.Names {
		t.Kinds[j] = Numeric
		for _, row := range t.Values {
			if isMissing(row[j]) {
				continue
			}
			if _, err := strconv.ParseFloat(row[j], 64); err != nil {
				t.Kinds[j] = Categorical
				break
			}
		}
	}
	log.Infof("loaded covariate table %s: %d samples, %d covariates", fnm, len(t.Samples), len(t.Names))
	return t, nil
}

func firstDuplicate(ids []string) (string, bool) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id, true
		}
		seen[id] = true
	}
	return "", false
}

// firstEmpty returns the index of the first empty id, or -1.
func firstEmpty(ids []string) int {
	for i, id := range ids {
		if id == "" {
			return i
		}
	}
	return -1
}
