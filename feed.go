// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package shardfeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/fairrank/shardfeed/batch"
	"github.com/fairrank/shardfeed/ctxsync"
	"github.com/fairrank/shardfeed/metrics"
	"github.com/fairrank/shardfeed/queue"
	"github.com/fairrank/shardfeed/stats"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"
)

// EOF is returned by Feed.Next once every worker's sentinel has been
// consumed.
var EOF = errors.New("EOF")

// A Feed is a running set of workers, one per shard, producing
// batches into a shared queue. The feed's consumer pops batches
// through Next (or directly from Queue) and, once done with all of
// them, calls Release to let the workers free their memory.
type Feed struct {
	config  Config
	queue   *queue.Queue
	release *ctxsync.Event
	workers []*Worker

	group    errgroup.Group
	waitOnce sync.Once
	waitc    chan struct{}
	waitErr  error

	sentinels int
	errs      []error
}

// Start validates the configuration and starts one worker per shard,
// each of which invokes the target to build its reader and encoder.
// Start returns as soon as the workers are started. If the
// configuration is invalid, Start returns an error of kind
// errors.Invalid without starting any worker.
//
// The context bounds the workers' production: if it is canceled,
// workers stop producing and wait for release. It does not bound the
// wait for release itself.
func Start(ctx context.Context, config Config, target Target) (*Feed, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.E(errors.Invalid, "shardfeed: nil target")
	}
	q, err := queue.New(config.ChannelCapacity)
	if err != nil {
		return nil, err
	}
	f := &Feed{
		config:  config,
		queue:   q,
		release: ctxsync.NewEvent(),
		workers: make([]*Worker, len(config.ShardPaths)),
		waitc:   make(chan struct{}),
	}
	for i, path := range config.ShardPaths {
		f.workers[i] = newWorker(Shard{Index: i, Path: path}, config, target, q, f.release)
	}
	for _, w := range f.workers {
		w := w
		f.group.Go(func() error { return w.run(ctx) })
	}
	log.Printf("%s: started %d workers: batch size %d, channel capacity %d",
		config.Name, len(f.workers), config.BatchSize, config.ChannelCapacity)
	return f, nil
}

// Queue returns the feed's queue. Consumers that pop from the queue
// directly must count sentinels against NumSentinel.
func (f *Feed) Queue() *queue.Queue { return f.queue }

// Workers returns the feed's workers, indexed by shard.
func (f *Feed) Workers() []*Worker { return f.workers }

// NumSentinel returns the number of sentinels the consumer must see
// before the feed's output is exhausted.
func (f *Feed) NumSentinel() int { return len(f.workers) }

// Next returns the next batch from the feed, blocking until one is
// available. Next returns EOF once a sentinel has been seen from
// every worker. Next is intended for a single consumer and is not
// safe for concurrent use.
//
// Sentinels carrying worker errors are logged; the errors are
// reported by Errs and Wait.
func (f *Feed) Next(ctx context.Context) (*batch.Batch, error) {
	for f.sentinels < len(f.workers) {
		item, err := f.queue.Pop(ctx)
		if err != nil {
			return nil, err
		}
		switch item.Kind {
		case queue.Batch:
			return item.Batch, nil
		case queue.Sentinel:
			f.sentinels++
			if item.Err != nil {
				f.errs = append(f.errs, item.Err)
				log.Printf("%s: worker %d ended with error: %v", f.config.Name, item.Worker, item.Err)
			}
			log.Debug.Printf("%s: %d/%d sentinels", f.config.Name, f.sentinels, len(f.workers))
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("shardfeed: unexpected queue item %v", item))
		}
	}
	return nil, EOF
}

// Errs returns the errors carried by the sentinels seen so far by
// Next.
func (f *Feed) Errs() []error { return f.errs }

// Release signals all workers that the consumer no longer needs their
// batches, allowing them to terminate. Release is idempotent and does
// not wait for the workers.
func (f *Feed) Release() {
	if f.release.Set() {
		log.Debug.Printf("%s: released %d workers", f.config.Name, len(f.workers))
	}
}

// Wait waits for every worker to terminate, which requires a prior
// call to Release, and returns the first worker error. Wait returns
// early with the context's error if the context is done first.
func (f *Feed) Wait(ctx context.Context) error {
	f.waitOnce.Do(func() {
		go func() {
			f.waitErr = f.group.Wait()
			close(f.waitc)
		}()
	})
	select {
	case <-f.waitc:
		return f.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scope returns a new scope with the merged metrics of all workers.
func (f *Feed) Scope() *metrics.Scope {
	scope := new(metrics.Scope)
	for _, w := range f.workers {
		scope.Merge(w.Scope())
	}
	return scope
}

// Stats returns the feed's merged worker metrics together with the
// statistics of its queue, the latter prefixed by "queue.".
func (f *Feed) Stats() stats.Values {
	vals := f.Scope().Values()
	for k, v := range f.queue.Stats() {
		vals["queue."+k] = v
	}
	return vals
}
