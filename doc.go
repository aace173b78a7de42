// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package shardfeed implements a multi-worker batch production
	pipeline for ranking model training and validation.

	A feed fans a list of input shards out to independent workers, one
	per shard. Each worker reads its shard through a record reader,
	groups records of similar length with a bucketed batcher, encodes
	each full group into a fixed-shape batch and pushes it onto a single
	bounded queue shared by all workers. When a worker's shard is
	exhausted, it flushes its partial groups as short batches and
	pushes a sentinel. The consumer pops batches until it has seen one
	sentinel per worker:

		feed, err := shardfeed.Start(ctx, config, shardfeed.TrainingTarget)
		if err != nil {
			log.Fatal(err)
		}
		for {
			b, err := feed.Next(ctx)
			if err == shardfeed.EOF {
				break
			}
			if err != nil {
				log.Fatal(err)
			}
			train(b)
			b.Release()
		}
		feed.Release()
		if err := feed.Wait(ctx); err != nil {
			log.Fatal(err)
		}

	Batch memory is owned by the worker that produced the batch and is
	allocated from that worker's arena. Releasing a batch hands its
	memory back to the arena for reuse by later batches, so a worker
	holds roughly the memory of the batches in flight rather than that
	of its whole shard. Workers keep their arena alive after they have
	pushed their sentinel and terminate only once the consumer calls
	Feed.Release, so that unreleased batches remain valid for as long as
	the consumer may hold them. Accessing a batch's tensors after the
	batch is released, or after its worker has terminated, panics.

	Workers are goroutines within the consumer's process, not separate
	processes. A terminated worker is one whose goroutine has returned
	and whose arena has been closed: the arena's memory is poisoned and
	every batch still borrowing from it becomes invalid. Nothing exits
	when a worker terminates.

	Workers are isolated from each other: a worker that fails to read
	its shard logs the failure, pushes a sentinel carrying the error,
	and otherwise behaves like a worker that reached the end of its
	shard. The error is reported by Worker.Err and Feed.Wait.
*/
package shardfeed
