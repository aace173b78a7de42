// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command shardfeed runs batch feeds over ranking datasets and
// computes fairness metrics of retrieval runs.
//
// Usage:
//
//	shardfeed run [flags] shard...
//	shardfeed fairness [flags] run-file
//
// Shards and data files may be local paths or s3:// URLs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func usage() {
	fmt.Fprintf(os.Stderr, `Shardfeed produces model-ready batches from sharded ranking datasets.

Usage:

	shardfeed <command> [arguments]

The commands are:

	run         run a feed over a set of shards and consume its batches
	fairness    compute FaiRR and NFaiRR of a TREC run file

Run "shardfeed <command> -help" for the command's flags.
`)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("shardfeed: ")
	must.Func = log.Fatal
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "run":
		runCmd(args)
	case "fairness":
		fairnessCmd(args)
	}
}
