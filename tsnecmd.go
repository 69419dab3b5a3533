// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"github.com/tumorscope/tumorscope/tsne"
)

// tsnecmd embeds the items of a precomputed distance matrix (for
// example sample-distances.npy from analyze) in two dimensions.
type tsnecmd struct{}

func (cmd *tsnecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return exitCode(err)
	}
	return 0
}

func (cmd *tsnecmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	inputFilename := flags.String("i", "", "input `file` (N x N float64 numpy array of distances)")
	outputFilename := flags.String("o", "", "output `file` (N x 2 numpy array)")
	cfg := tsne.DefaultConfig
	flags.Float64Var(&cfg.Perplexity, "perplexity", cfg.Perplexity, "perplexity (1 < `P` < N)")
	flags.IntVar(&cfg.MaxIter, "max-iter", cfg.MaxIter, "number of iterations")
	flags.Float64Var(&cfg.LearningRate, "learning-rate", cfg.LearningRate, "gradient descent learning rate")
	flags.Uint64Var(&cfg.Seed, "seed", 1, "random `seed` for initial coordinates")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return usageError{err}
	} else if flags.NArg() > 0 {
		return usageError{fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())}
	}
	if *inputFilename == "" {
		return fmt.Errorf("%w: input file not specified", ErrInvalidArgument)
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if *outputFilename != "" {
			return fmt.Errorf("%w: cannot specify output file in container mode", ErrInvalidArgument)
		}
		runner := arvadosContainerRunner{
			Name:        "tumorscope tsne",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         8000000000,
			VCPUs:       1,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename)
		if err != nil {
			return err
		}
		runner.Args = []string{"tsne", "-local=true",
			"-i=" + *inputFilename,
			"-o=/mnt/output/tsne.npy",
			fmt.Sprintf("-perplexity=%v", cfg.Perplexity),
			fmt.Sprintf("-max-iter=%d", cfg.MaxIter),
			fmt.Sprintf("-learning-rate=%v", cfg.LearningRate),
			fmt.Sprintf("-seed=%d", cfg.Seed),
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/tsne.npy")
		return nil
	}
	if *outputFilename == "" {
		return fmt.Errorf("%w: output file not specified", ErrInvalidArgument)
	}

	d, err := readNumpyMatrix(*inputFilename)
	if err != nil {
		return err
	}
	cfg.Progress = func(iter int, kl float64) {
		log.Infof("iteration %d: KL divergence %f", iter, kl)
	}
	y, err := tsne.Embed(d, cfg)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	return writeNumpyMatrix(*outputFilename, y)
}
