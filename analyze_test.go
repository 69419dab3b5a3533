// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"io/ioutil"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type analyzeSuite struct{}

var _ = check.Suite(&analyzeSuite{})

// plantedClinical returns ER status (Positive for samples 0-9) and a
// second table with an extra sample and some ages.
func plantedClinical(expr *ExpressionMatrix) (*CovariateTable, *CovariateTable) {
	a := &CovariateTable{Names: []string{"ER_STATUS"}, Kinds: []CovariateKind{Categorical}}
	b := &CovariateTable{Names: []string{"AGE"}, Kinds: []CovariateKind{Numeric}}
	for j, s := range expr.Samples {
		er := "Negative"
		if j < 10 {
			er = "Positive"
		}
		a.Samples = append(a.Samples, s)
		a.Values = append(a.Values, []string{er})
		b.Samples = append(b.Samples, s)
		b.Values = append(b.Values, []string{"50"})
	}
	b.Samples = append(b.Samples, "EXTRA")
	b.Values = append(b.Values, []string{"NA"})
	return a, b
}

func testParams() analysisParams {
	var p analysisParams
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	p.Flags(flags)
	flags.Parse([]string{"-top-genes=10", "-perplexity=5", "-max-iter=300", "-seed=3"})
	return p
}

func (s *analyzeSuite) TestPlantedBlocks(c *check.C) {
	expr := plantedBlocks(5)
	clinA, clinB := plantedClinical(expr)
	for _, metric := range []string{"euclidean", "pearson", "manhattan", "minkowski"} {
		for _, linkage := range []string{"complete", "average", "single"} {
			params := testParams()
			params.Metric, params.Linkage = metric, linkage
			a, err := runAnalysis(expr, clinA, clinB, "ER_STATUS", params)
			c.Assert(err, check.IsNil)
			c.Check(a.aligned.SampleKey, check.HasLen, 20)
			for i, id := range a.aligned.SampleKey {
				want := 1
				if i >= 10 {
					want = 2
				}
				c.Check(a.clusters[i], check.Equals, want, check.Commentf("%s/%s sample %d", metric, linkage, i))
				c.Check(a.assignment[id], check.Equals, want)
			}
			c.Check(a.chisq.PValue < 0.01, check.Equals, true, check.Commentf("%s/%s %+v", metric, linkage, a.chisq))
			c.Check(a.heatmap.Rows, check.Equals, 10)
			c.Check(a.heatmap.Cols, check.Equals, 20)
			rows, cols := a.tsne.Dims()
			c.Check(rows, check.Equals, 20)
			c.Check(cols, check.Equals, 2)
		}
	}
}

func (s *analyzeSuite) TestAnalysisErrors(c *check.C) {
	expr := plantedBlocks(6)
	clinA, clinB := plantedClinical(expr)

	params := testParams()
	params.Metric = "cosine"
	_, err := runAnalysis(expr, clinA, clinB, "ER_STATUS", params)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)

	params = testParams()
	params.Linkage = "ward"
	_, err = runAnalysis(expr, clinA, clinB, "ER_STATUS", params)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)

	params = testParams()
	params.Perplexity = 20
	_, err = runAnalysis(expr, clinA, clinB, "ER_STATUS", params)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)

	params = testParams()
	params.TopGenes = 11
	_, err = runAnalysis(expr, clinA, clinB, "ER_STATUS", params)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)

	params = testParams()
	params.K = 21
	_, err = runAnalysis(expr, clinA, clinB, "ER_STATUS", params)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)

	params = testParams()
	_, err = runAnalysis(expr, clinA, clinB, "HER2_STATUS", params)
	c.Check(errors.Is(err, ErrInvalidArgument), check.Equals, true)

	params = testParams()
	params.MinSamples = 21
	_, err = runAnalysis(expr, clinA, clinB, "ER_STATUS", params)
	c.Check(errors.Is(err, ErrAlignment), check.Equals, true)
}

func (s *analyzeSuite) TestCommand(c *check.C) {
	tmpdir := c.MkDir()
	expr := plantedBlocks(7)
	writeExpression(c, tmpdir+"/expr.tsv", expr)
	var clin bytes.Buffer
	clin.WriteString("#Patient Identifier\tER Status\nPATIENT_ID\tER_STATUS\n")
	for j, s := range expr.Samples {
		if j == 19 {
			clin.WriteString(s + "\t[Not Available]\n")
		} else if j < 10 {
			clin.WriteString(s + "\tPositive\n")
		} else {
			clin.WriteString(s + "\tNegative\n")
		}
	}
	c.Assert(ioutil.WriteFile(tmpdir+"/clinical-a.tsv", clin.Bytes(), 0644), check.IsNil)
	c.Assert(ioutil.WriteFile(tmpdir+"/clinical-b.csv", []byte("sample,AGE\nS00,51\nS01,48\nS02,70\nS03,NA\nS04,61\nS05,45\nS06,39\nS07,80\nS08,55\nS09,52\nS10,58\nS11,66\nS12,71\nS13,42\nS14,49\nS15,50\nS16,63\nS17,57\nS18,44\nS19,60\n"), 0644), check.IsNil)

	outdir := tmpdir + "/out"
	var stdout bytes.Buffer
	exited := (&analyzer{}).RunCommand("tumorscope analyze", []string{
		"-local=true",
		"-expression", tmpdir + "/expr.tsv",
		"-clinical-a", tmpdir + "/clinical-a.tsv",
		"-clinical-b", tmpdir + "/clinical-b.csv",
		"-output-dir", outdir,
		"-top-genes=10",
		"-perplexity=5",
		"-max-iter=200",
	}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, outdir+"\n")

	var ans answers
	buf, err := ioutil.ReadFile(outdir + "/answers.json")
	c.Assert(err, check.IsNil)
	c.Assert(json.Unmarshal(buf, &ans), check.IsNil)
	c.Check(ans.Metric, check.Equals, "euclidean")
	c.Check(ans.Linkage, check.Equals, "complete")
	c.Check(ans.K, check.Equals, 2)
	c.Check(ans.PValue < 0.01, check.Equals, true)

	f, err := os.Open(outdir + "/heatmap.npy")
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{10, 20, 3})
	rgb, err := npy.GetUint8()
	c.Assert(err, check.IsNil)
	c.Check(rgb, check.HasLen, 600)

	tsne, err := readNumpyMatrix(outdir + "/tsne.npy")
	c.Assert(err, check.IsNil)
	rows, cols := tsne.Dims()
	c.Check(rows, check.Equals, 20)
	c.Check(cols, check.Equals, 2)
	dist, err := readNumpyMatrix(outdir + "/sample-distances.npy")
	c.Assert(err, check.IsNil)
	rows, cols = dist.Dims()
	c.Check(rows, check.Equals, 20)
	c.Check(cols, check.Equals, 20)

	samples, err := ioutil.ReadFile(outdir + "/samples.csv")
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSpace(string(samples)), "\n")
	c.Check(lines, check.HasLen, 21)
	c.Check(lines[0], check.Equals, "Index,SampleID,Cluster,ER_STATUS,HeatmapColumn,TSNE0,TSNE1,PCA0,PCA1")
	c.Check(lines[1], check.Matches, `0,S00,1,Positive,\d+,.*`)
	c.Check(lines[20], check.Matches, `19,S19,2,,\d+,.*`)

	contingency, err := ioutil.ReadFile(outdir + "/contingency.csv")
	c.Assert(err, check.IsNil)
	c.Check(string(contingency), check.Equals, "Label,Cluster1,Cluster2\nNegative,0,9\nPositive,10,0\n")

	genes, err := ioutil.ReadFile(outdir + "/genes.csv")
	c.Assert(err, check.IsNil)
	c.Check(strings.Count(string(genes), "\n"), check.Equals, 11)

	// tsne subcommand reproduces the embedding from the distance matrix
	exited = (&tsnecmd{}).RunCommand("tumorscope tsne", []string{
		"-local=true",
		"-i", outdir + "/sample-distances.npy",
		"-o", tmpdir + "/tsne2.npy",
		"-perplexity=5",
		"-max-iter=200",
		"-seed=1",
	}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	tsne2, err := readNumpyMatrix(tmpdir + "/tsne2.npy")
	c.Assert(err, check.IsNil)
	for i := 0; i < 20; i++ {
		c.Check(tsne2.At(i, 0), check.Equals, tsne.At(i, 0))
		c.Check(tsne2.At(i, 1), check.Equals, tsne.At(i, 1))
	}
}

func (s *analyzeSuite) TestCommandErrors(c *check.C) {
	tmpdir := c.MkDir()
	exited := (&analyzer{}).RunCommand("tumorscope analyze", []string{"-local=true", "-expression", tmpdir + "/missing.tsv", "-clinical-a", "x", "-clinical-b", "y"}, nil, ioutil.Discard, ioutil.Discard)
	c.Check(exited, check.Equals, 1)
	exited = (&analyzer{}).RunCommand("tumorscope analyze", []string{"-local=true"}, nil, ioutil.Discard, ioutil.Discard)
	c.Check(exited, check.Equals, 1)
	exited = (&analyzer{}).RunCommand("tumorscope analyze", []string{"-no-such-flag"}, nil, ioutil.Discard, ioutil.Discard)
	c.Check(exited, check.Equals, 2)
	exited = (&analyzer{}).RunCommand("tumorscope analyze", []string{"-local=true", "extra"}, nil, ioutil.Discard, ioutil.Discard)
	c.Check(exited, check.Equals, 2)
	exited = (&tsnecmd{}).RunCommand("tumorscope tsne", []string{"-seed=x"}, nil, ioutil.Discard, ioutil.Discard)
	c.Check(exited, check.Equals, 2)
	exited = (&submitcmd{}).RunCommand("tumorscope submit", []string{"-no-such-flag"}, nil, ioutil.Discard, ioutil.Discard)
	c.Check(exited, check.Equals, 2)
	exited = (&tsnecmd{}).RunCommand("tumorscope tsne", []string{"-local=true", "-i", tmpdir + "/missing.npy", "-o", tmpdir + "/out.npy"}, nil, ioutil.Discard, ioutil.Discard)
	c.Check(exited, check.Equals, 1)
}
