// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fairrank/shardfeed/fairness"
	"github.com/grailbio/base/log"
)

func fairnessCmd(args []string) {
	var (
		flags      = flag.NewFlagSet("fairness", flag.ExitOnError)
		neutrality = flags.String("neutrality", "", "document neutrality table (docid<TAB>score)")
		background = flags.String("background", "", "TREC run file that defines the background documents of each query")
		cutoff     = flags.Int("cutoff", 200, "number of retrieved documents read per query")
		perQuery   = flags.Bool("per-query", false, "also print per-query scores")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: shardfeed fairness -neutrality=path -background=path [flags] run-file\n\n")
		flags.PrintDefaults()
		os.Exit(2)
	}
	flags.Parse(args)
	if flags.NArg() != 1 || *neutrality == "" || *background == "" {
		flags.Usage()
	}
	ctx := context.Background()
	metric, err := fairness.Load(ctx, *neutrality, *background)
	if err != nil {
		log.Fatal(err)
	}
	results, err := fairness.ReadRunFile(ctx, flags.Arg(0), *cutoff)
	if err != nil {
		log.Fatal(err)
	}
	scores, err := metric.Compute(results, fairness.DefaultThresholds)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(scores)
	if !*perQuery {
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprint(tw, "query")
	for _, k := range scores.Thresholds {
		fmt.Fprintf(tw, "\tFaiRR@%d\tNFaiRR@%d", k, k)
	}
	fmt.Fprintln(tw)
	for _, q := range results.Queries() {
		fmt.Fprint(tw, q)
		for _, k := range scores.Thresholds {
			fmt.Fprintf(tw, "\t%.4f", scores.PerQueryFaiRR[k][q])
			if v, ok := scores.PerQueryNFaiRR[k][q]; ok {
				fmt.Fprintf(tw, "\t%.4f", v)
			} else {
				fmt.Fprint(tw, "\t-")
			}
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}
