// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fairrank/shardfeed"
	"github.com/fairrank/shardfeed/batch"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
)

func runCmd(args []string) {
	var (
		flags         = flag.NewFlagSet("run", flag.ExitOnError)
		mode          = flags.String("mode", "train", "dataset kind: train (query, positive, negative triples) or validate (qid, docid, query, doc tuples)")
		consoleStatus = flags.Bool("console-status", false, "print worker status to stdout")
		httpAddr      = flags.String("http", "", "address of the http status server; none if empty")
		config        = shardfeed.DefaultConfig
	)
	config.RegisterFlags(flags, "")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: shardfeed run [flags] shard...\n\n")
		flags.PrintDefaults()
		os.Exit(2)
	}
	flags.Parse(args)
	config.ShardPaths = flags.Args()
	var target shardfeed.Target
	switch *mode {
	case "train":
		target = shardfeed.TrainingTarget
	case "validate":
		target = shardfeed.ValidationTarget
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	var st status.Status
	config.Status = st.Group(config.Name)
	if *consoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, &st)
	}
	if *httpAddr != "" {
		http.Handle("/debug/status", status.Handler(&st))
		go func() {
			log.Printf("HTTP status at %s", *httpAddr)
			if err := http.ListenAndServe(*httpAddr, nil); err != nil {
				log.Error.Printf("failed to start HTTP at %s: %v", *httpAddr, err)
			}
		}()
	}

	ctx := context.Background()
	start := time.Now()
	feed, err := shardfeed.Start(ctx, config, target)
	if err != nil {
		log.Fatal(err)
	}
	var nbatch, nrecord, ntoken int
	for {
		b, err := feed.Next(ctx)
		if err == shardfeed.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		nbatch++
		nrecord += b.Len()
		ntoken += tokens(b)
		b.Release()
	}
	feed.Release()
	err = feed.Wait(ctx)
	elapsed := time.Since(start)
	fmt.Printf("%s: %d batches, %d records, %d tokens in %s\n", config.Name, nbatch, nrecord, ntoken, elapsed)
	fmt.Printf("stats: %s\n", feed.Stats())
	if err != nil {
		log.Fatal(err)
	}
}

// tokens copies the batch's tensors out of worker memory, as a
// training loop would, and returns the number of tokens copied.
func tokens(b *batch.Batch) int {
	var n int
	for _, t := range []*batch.Tensor{b.Query, b.Pos, b.Neg, b.Doc} {
		if t == nil {
			continue
		}
		for _, row := range t.Copy() {
			n += len(row)
		}
	}
	return n
}
