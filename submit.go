// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"strings"
	"time"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"github.com/tumorscope/tumorscope/cluster"
)

// answers are the results an analysis reports to the grading
// collaborator.
type answers struct {
	Metric  string  `json:"metric"`
	Linkage string  `json:"linkage"`
	K       int     `json:"k"`
	PValue  float64 `json:"pvalue"`
}

func (a answers) validate() error {
	if _, err := ParseMetric(a.Metric); err != nil {
		return err
	}
	if _, err := cluster.ParseLinkage(a.Linkage); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	if a.K < 1 {
		return fmt.Errorf("%w: cluster count %d < 1", ErrInvalidArgument, a.K)
	}
	if math.IsNaN(a.PValue) || a.PValue < 0 || a.PValue > 1 {
		return fmt.Errorf("%w: p-value %v outside [0,1]", ErrInvalidArgument, a.PValue)
	}
	return nil
}

type submitter interface {
	Submit(ctx context.Context, moduleID string, a answers) (string, error)
}

// arvadosSubmitter stores each submission as a collection in an
// Arvados project. Resubmitting the same answers for the same module
// returns the existing collection.
type arvadosSubmitter struct {
	Client      *arvados.Client
	ProjectUUID string
}

func (s *arvadosSubmitter) Submit(ctx context.Context, moduleID string, a answers) (string, error) {
	if strings.TrimSpace(moduleID) == "" {
		return "", fmt.Errorf("%w: empty module id", ErrInvalidArgument)
	}
	if s.ProjectUUID == "" {
		return "", fmt.Errorf("%w: no project UUID for submissions", ErrInvalidArgument)
	}
	if err := a.validate(); err != nil {
		return "", err
	}
	buf, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", err
	}
	uuid, err := storeCollection(ctx, s.Client, s.ProjectUUID, "tumorscope submission "+moduleID, map[string][]byte{"answers.json": append(buf, '\n')}, map[string]interface{}{
		"module":  moduleID,
		"metric":  a.Metric,
		"linkage": a.Linkage,
		"k":       a.K,
		"pvalue":  a.PValue,
	})
	if err != nil {
		return "", fmt.Errorf("%w: module %q: %s", ErrSubmission, moduleID, err)
	}
	return uuid, nil
}

type submitcmd struct {
	submitter submitter
}

func (cmd *submitcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return exitCode(err)
	}
	return 0
}

func (cmd *submitcmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	moduleID := flags.String("module", "", "module `id` the answers belong to")
	answersFilename := flags.String("answers", "-", "answers.json `file` written by 'tumorscope analyze'")
	projectUUID := flags.String("project", "", "project `UUID` for submissions")
	timeout := flags.Duration("timeout", time.Minute, "give up after this long")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return usageError{err}
	} else if flags.NArg() > 0 {
		return usageError{fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())}
	}

	var buf []byte
	if *answersFilename == "-" {
		buf, err = ioutil.ReadAll(stdin)
	} else {
		var f io.ReadCloser
		f, err = open(*answersFilename)
		if err == nil {
			buf, err = ioutil.ReadAll(f)
			f.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLoad, err)
	}
	var a answers
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&a); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrLoad, *answersFilename, err)
	}

	s := cmd.submitter
	if s == nil {
		s = &arvadosSubmitter{Client: arvados.NewClientFromEnv(), ProjectUUID: *projectUUID}
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	id, err := s.Submit(ctx, *moduleID, a)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"module": *moduleID, "submission": id}).Info("submitted")
	fmt.Fprintln(stdout, id)
	return nil
}
