// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"github.com/tumorscope/tumorscope/cluster"
	"github.com/tumorscope/tumorscope/heatmap"
	"github.com/tumorscope/tumorscope/tsne"
	"gonum.org/v1/gonum/mat"
)

// analysisParams are the settings shared by local and container runs
// of the analyze command.
type analysisParams struct {
	MinSamples    int
	Pseudocount   float64
	TopGenes      int
	Metric        string
	MinkowskiP    float64
	Linkage       string
	K             int
	Perplexity    float64
	MaxIter       int
	Seed          uint64
	PCAComponents int
	Colors        int
	Clamp         float64
	TopToBottom   bool
	Threads       int
}

func (p *analysisParams) Flags(flags *flag.FlagSet) {
	flags.IntVar(&p.MinSamples, "min-samples", 3, "fail if fewer than `N` samples are common to all input tables")
	flags.Float64Var(&p.Pseudocount, "pseudocount", 1, "add `X` to each count before taking log2")
	flags.IntVar(&p.TopGenes, "top-genes", 1000, "keep the `N` genes with the highest variance across samples")
	flags.StringVar(&p.Metric, "metric", "euclidean", "distance `metric` for clustering (pearson, euclidean, manhattan, minkowski)")
	flags.Float64Var(&p.MinkowskiP, "minkowski-p", 3, "power `p` for the minkowski metric (p >= 1)")
	flags.StringVar(&p.Linkage, "linkage", "complete", "`linkage` for hierarchical clustering (average, complete, single)")
	flags.IntVar(&p.K, "k", 2, "cut the sample dendrogram into `N` clusters")
	flags.Float64Var(&p.Perplexity, "perplexity", 30, "t-SNE perplexity (1 < `P` < number of samples)")
	flags.IntVar(&p.MaxIter, "max-iter", 1000, "t-SNE iterations")
	flags.Uint64Var(&p.Seed, "seed", 1, "random `seed` for t-SNE initial coordinates (same seed, same output)")
	flags.IntVar(&p.PCAComponents, "pca-components", 2, "number of principal components to write to pca.npy")
	flags.IntVar(&p.Colors, "colors", 100, "number of heatmap color buckets")
	flags.Float64Var(&p.Clamp, "clamp", 2, "clamp z-scores to [-`Z`, Z] before coloring the heatmap")
	flags.BoolVar(&p.TopToBottom, "top-to-bottom", true, "draw the first heatmap row at the top")
	flags.IntVar(&p.Threads, "threads", 4, "number of threads for distance and variance computation")
}

func (p *analysisParams) Args() []string {
	return []string{
		fmt.Sprintf("-min-samples=%d", p.MinSamples),
		fmt.Sprintf("-pseudocount=%v", p.Pseudocount),
		fmt.Sprintf("-top-genes=%d", p.TopGenes),
		fmt.Sprintf("-metric=%s", p.Metric),
		fmt.Sprintf("-minkowski-p=%v", p.MinkowskiP),
		fmt.Sprintf("-linkage=%s", p.Linkage),
		fmt.Sprintf("-k=%d", p.K),
		fmt.Sprintf("-perplexity=%v", p.Perplexity),
		fmt.Sprintf("-max-iter=%d", p.MaxIter),
		fmt.Sprintf("-seed=%d", p.Seed),
		fmt.Sprintf("-pca-components=%d", p.PCAComponents),
		fmt.Sprintf("-colors=%d", p.Colors),
		fmt.Sprintf("-clamp=%v", p.Clamp),
		fmt.Sprintf("-top-to-bottom=%v", p.TopToBottom),
		fmt.Sprintf("-threads=%d", p.Threads),
	}
}

type analyzer struct {
	params analysisParams
}

func (cmd *analyzer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return exitCode(err)
	}
	return 0
}

func (cmd *analyzer) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	arvadosRAM := flags.Int("arvados-ram", 16000000000, "amount of memory to request for arvados container (`bytes`)")
	arvadosVCPUs := flags.Int("arvados-vcpus", 4, "number of VCPUs to request for arvados container")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	exprFilename := flags.String("expression", "", "gene x sample expression counts (`file`, tab or comma separated, optionally gzipped)")
	clinAFilename := flags.String("clinical-a", "", "first sample x covariate clinical `file`")
	clinBFilename := flags.String("clinical-b", "", "second sample x covariate clinical `file`")
	covariate := flags.String("covariate", "ER_STATUS", "clinical covariate `column` to test against sample clusters")
	outputDir := flags.String("output-dir", "./out", "output `directory`")
	loglevel := flags.String("loglevel", "info", "logging `level` (debug, info, warn, error)")
	cmd.params.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return usageError{err}
	} else if flags.NArg() > 0 {
		return usageError{fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())}
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	log.SetLevel(lvl)

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	for _, required := range []struct {
		flag  string
		value string
	}{
		{"-expression", *exprFilename},
		{"-clinical-a", *clinAFilename},
		{"-clinical-b", *clinBFilename},
	} {
		if required.value == "" {
			return fmt.Errorf("%w: %s file not specified", ErrInvalidArgument, required.flag)
		}
	}

	if !*runlocal {
		runner := arvadosContainerRunner{
			Name:        "tumorscope analyze",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         int64(*arvadosRAM),
			VCPUs:       *arvadosVCPUs,
			Priority:    *priority,
			KeepCache:   2,
		}
		err = runner.TranslatePaths(exprFilename, clinAFilename, clinBFilename)
		if err != nil {
			return err
		}
		runner.Args = []string{"analyze", "-local=true",
			"-loglevel=" + *loglevel,
			"-expression=" + *exprFilename,
			"-clinical-a=" + *clinAFilename,
			"-clinical-b=" + *clinBFilename,
			"-covariate=" + *covariate,
			"-output-dir=/mnt/output",
		}
		runner.Args = append(runner.Args, cmd.params.Args()...)
		var output string
		output, err = runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output)
		return nil
	}

	expr, err := loadExpression(*exprFilename)
	if err != nil {
		return err
	}
	clinA, err := loadCovariates(*clinAFilename)
	if err != nil {
		return err
	}
	clinB, err := loadCovariates(*clinBFilename)
	if err != nil {
		return err
	}
	a, err := runAnalysis(expr, clinA, clinB, *covariate, cmd.params)
	if err != nil {
		return err
	}
	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return err
	}
	err = a.writeOutputs(*outputDir)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, *outputDir)
	return nil
}

// analysis holds the results of each pipeline stage.
type analysis struct {
	params     analysisParams
	metric     Metric
	linkage    cluster.Linkage
	aligned    *Aligned
	covariate  string
	labels     []string // covariate value per sample, "" if missing
	selected   *ExpressionMatrix // standardized, top-variance genes
	geneTree   *cluster.Dendrogram
	sampleTree *cluster.Dendrogram
	sampleDist *mat.SymDense
	clusters   []int          // cluster id per sample
	assignment map[string]int // sample id -> cluster id
	geneOrder  []int
	colOrder   []int
	heatmap    *heatmap.Grid
	tsne       *mat.Dense
	pca        *mat.Dense
	table      *contingency
	chisq      chiSquareResult
	glmPValue  float64
}

// runAnalysis runs every stage of the pipeline on the loaded tables.
func runAnalysis(expr *ExpressionMatrix, clinA, clinB *CovariateTable, covariate string, params analysisParams) (*analysis, error) {
	a := &analysis{params: params, covariate: covariate, glmPValue: math.NaN()}
	var err error
	a.metric, err = ParseMetric(params.Metric)
	if err != nil {
		return nil, err
	}
	a.linkage, err = cluster.ParseLinkage(params.Linkage)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}

	a.aligned, err = Align(expr, clinA, clinB, params.MinSamples)
	if err != nil {
		return nil, err
	}
	nsamples := len(a.aligned.SampleKey)
	if params.K < 1 || params.K > nsamples {
		return nil, fmt.Errorf("%w: cannot cut %d samples into %d clusters", ErrInvalidArgument, nsamples, params.K)
	}

	a.labels, err = a.aligned.ClinicalA.Column(covariate)
	if err != nil {
		a.labels, err = a.aligned.ClinicalB.Column(covariate)
		if err != nil {
			return nil, fmt.Errorf("%w: covariate %q not found in either clinical table", ErrInvalidArgument, covariate)
		}
	}

	logged, err := logTransform(a.aligned.Expression, params.Pseudocount)
	if err != nil {
		return nil, err
	}
	idx, err := topVariance(logged.Data, params.TopGenes, params.Threads)
	if err != nil {
		return nil, err
	}
	top := logged.SelectRows(idx)
	log.Infof("selected %d of %d genes by variance", len(idx), len(logged.Genes))
	a.selected, err = standardizeRows(top)
	if err != nil {
		return nil, err
	}

	log.Infof("clustering %d genes and %d samples (%s, %s linkage)", len(a.selected.Genes), nsamples, a.metric, a.linkage)
	geneDist, err := pairwiseDistances(matrixRows(a.selected.Data), a.selected.Genes, a.metric, params.MinkowskiP, params.Threads)
	if err != nil {
		return nil, err
	}
	a.geneTree, err = cluster.Agglomerate(geneDist, a.linkage)
	if err != nil {
		return nil, fmt.Errorf("%w: gene clustering: %s", ErrInvalidArgument, err)
	}
	a.sampleDist, err = pairwiseDistances(matrixCols(a.selected.Data), a.aligned.SampleKey, a.metric, params.MinkowskiP, params.Threads)
	if err != nil {
		return nil, err
	}
	a.sampleTree, err = cluster.Agglomerate(a.sampleDist, a.linkage)
	if err != nil {
		return nil, fmt.Errorf("%w: sample clustering: %s", ErrInvalidArgument, err)
	}
	a.clusters, err = a.sampleTree.Cut(params.K)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	a.assignment = make(map[string]int, nsamples)
	for i, id := range a.aligned.SampleKey {
		a.assignment[id] = a.clusters[i]
	}

	a.geneOrder = a.geneTree.LeafOrder()
	a.colOrder = a.sampleTree.LeafOrder()
	ordered := mat.NewDense(len(a.geneOrder), len(a.colOrder), nil)
	for i, gi := range a.geneOrder {
		for j, sj := range a.colOrder {
			ordered.Set(i, j, a.selected.Data.At(gi, sj))
		}
	}
	a.heatmap, err = heatmap.Render(ordered, heatmap.Options{
		Palette:     heatmap.RdBu,
		NColors:     params.Colors,
		Min:         -params.Clamp,
		Max:         params.Clamp,
		TopToBottom: params.TopToBottom,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: heatmap: %s", ErrInvalidArgument, err)
	}

	cfg := tsne.DefaultConfig
	cfg.Perplexity = params.Perplexity
	cfg.MaxIter = params.MaxIter
	cfg.Seed = params.Seed
	cfg.Progress = func(iter int, kl float64) {
		log.Debugf("t-SNE iteration %d: KL divergence %f", iter, kl)
	}
	log.Infof("t-SNE: %d samples, perplexity %v, %d iterations, seed %d", nsamples, cfg.Perplexity, cfg.MaxIter, cfg.Seed)
	a.tsne, err = tsne.Embed(a.sampleDist, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: t-SNE: %s", ErrInvalidArgument, err)
	}
	a.pca, err = pcaEmbed(a.selected.Data, params.PCAComponents)
	if err != nil {
		return nil, err
	}

	var labels []string
	var clusters []int
	for i, label := range a.labels {
		if label != "" {
			labels = append(labels, label)
			clusters = append(clusters, a.clusters[i])
		}
	}
	if missing := nsamples - len(labels); missing > 0 {
		log.Warnf("%d of %d samples have no %s value and are left out of the association test", missing, nsamples, covariate)
	}
	a.table, err = buildContingency(labels, clusters)
	if err != nil {
		return nil, err
	}
	a.chisq = chiSquareTest(a.table)
	log.WithFields(log.Fields{
		"covariate": covariate,
		"statistic": a.chisq.Statistic,
		"df":        a.chisq.DF,
		"pvalue":    a.chisq.PValue,
	}).Info("chi-square test")
	if len(a.table.Labels) == 2 {
		outcome := make([]bool, len(labels))
		for i, label := range labels {
			outcome[i] = label == a.table.Labels[1]
		}
		a.glmPValue = glmPvalue(outcome, clusters)
		log.Infof("logistic regression likelihood-ratio p-value %g", a.glmPValue)
	}
	return a, nil
}

func (a *analysis) answers() answers {
	return answers{
		Metric:  a.metric.String(),
		Linkage: a.linkage.String(),
		K:       a.params.K,
		PValue:  a.chisq.PValue,
	}
}

func (a *analysis) writeOutputs(dir string) error {
	err := writeNumpyUint8(dir+"/heatmap.npy", a.heatmap.RGB(), a.heatmap.Rows, a.heatmap.Cols, 3)
	if err != nil {
		return err
	}
	for fnm, m := range map[string]mat.Matrix{
		"tsne.npy":             a.tsne,
		"pca.npy":              a.pca,
		"sample-distances.npy": a.sampleDist,
	} {
		err = writeNumpyMatrix(dir+"/"+fnm, m)
		if err != nil {
			return err
		}
	}
	err = a.writeSamples(dir + "/samples.csv")
	if err != nil {
		return err
	}
	err = a.writeGenes(dir + "/genes.csv")
	if err != nil {
		return err
	}
	err = writeFile(dir+"/contingency.csv", a.table.WriteCSV)
	if err != nil {
		return err
	}
	buf, err := json.MarshalIndent(a.answers(), "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(dir+"/answers.json", append(buf, '\n'), 0666)
}

func writeFile(fnm string, write func(io.Writer) error) error {
	log.Infof("writing %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	err = write(f)
	if err != nil {
		return err
	}
	return f.Close()
}

func (a *analysis) writeSamples(fnm string) error {
	return writeFile(fnm, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		header := []string{"Index", "SampleID", "Cluster", a.covariate, "HeatmapColumn", "TSNE0", "TSNE1"}
		_, ncomp := a.pca.Dims()
		for c := 0; c < ncomp; c++ {
			header = append(header, fmt.Sprintf("PCA%d", c))
		}
		cw.Write(header)
		heatmapCol := make([]int, len(a.colOrder))
		for col, s := range a.colOrder {
			heatmapCol[s] = col
		}
		for i, id := range a.aligned.SampleKey {
			rec := []string{
				strconv.Itoa(i),
				id,
				strconv.Itoa(a.clusters[i]),
				a.labels[i],
				strconv.Itoa(heatmapCol[i]),
				strconv.FormatFloat(a.tsne.At(i, 0), 'g', -1, 64),
				strconv.FormatFloat(a.tsne.At(i, 1), 'g', -1, 64),
			}
			for c := 0; c < ncomp; c++ {
				rec = append(rec, strconv.FormatFloat(a.pca.At(i, c), 'g', -1, 64))
			}
			cw.Write(rec)
		}
		cw.Flush()
		return cw.Error()
	})
}

func (a *analysis) writeGenes(fnm string) error {
	return writeFile(fnm, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		cw.Write([]string{"HeatmapRow", "Gene"})
		for row, gi := range a.geneOrder {
			if !a.params.TopToBottom {
				row = len(a.geneOrder) - 1 - row
			}
			cw.Write([]string{strconv.Itoa(row), a.selected.Genes[gi]})
		}
		cw.Flush()
		return cw.Error()
	})
}
