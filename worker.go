// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package shardfeed

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/fairrank/shardfeed/batch"
	"github.com/fairrank/shardfeed/bucket"
	"github.com/fairrank/shardfeed/ctxsync"
	"github.com/fairrank/shardfeed/metrics"
	"github.com/fairrank/shardfeed/queue"
	"github.com/fairrank/shardfeed/recordio"
	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
)

// WorkerState represents the runtime state of a Worker. WorkerState
// values are defined so that their magnitudes correspond with worker
// progression; a worker alternates between WorkerReading and
// WorkerEmitting, and otherwise only moves to larger-valued states.
type WorkerState int

const (
	// WorkerSpawned is the initial state of a worker. The worker
	// builds its reader and encoder in this state.
	WorkerSpawned WorkerState = iota
	// WorkerReading indicates that the worker is reading records from
	// its shard.
	WorkerReading
	// WorkerEmitting indicates that the worker is encoding a group of
	// records or pushing the resulting batch onto the queue, possibly
	// blocked on a full queue.
	WorkerEmitting
	// WorkerDrained indicates that the worker has emitted all of its
	// batches, pushed its sentinel and closed its reader.
	WorkerDrained
	// WorkerAwaitingRelease indicates that the worker is waiting for
	// the consumer to release it. Its batches remain valid.
	WorkerAwaitingRelease
	// WorkerTerminated indicates that the worker has closed its arena
	// and its goroutine has returned. Its batches are no longer valid.
	WorkerTerminated

	maxWorkerState
)

var workerStates = [...]string{
	WorkerSpawned:         "SPAWNED",
	WorkerReading:         "READING",
	WorkerEmitting:        "EMITTING",
	WorkerDrained:         "DRAINED",
	WorkerAwaitingRelease: "AWAITING_RELEASE",
	WorkerTerminated:      "TERMINATED",
}

// String returns the worker's state as an upper-case string.
func (s WorkerState) String() string {
	if s < 0 || s >= maxWorkerState {
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
	return workerStates[s]
}

var (
	recordsRead    = metrics.NewCounter("records")
	batchesEmitted = metrics.NewCounter("batches")
	shortBatches   = metrics.NewCounter("batches.short")
	encodingErrors = metrics.NewCounter("encoding.errors")
	recordsDropped = metrics.NewCounter("records.dropped")
)

// A Worker turns a single shard into a stream of batches followed by
// a sentinel. Workers are created and started by Start; their state
// may be observed through the feed.
type Worker struct {
	// Index is the worker's index, which is also that of its shard.
	Index int
	// Shard is the shard read by the worker.
	Shard Shard

	config  Config
	target  Target
	queue   *queue.Queue
	release *ctxsync.Event
	arena   *batch.Arena
	scope   metrics.Scope
	status  *status.Task
	seq     int

	mu    sync.Mutex
	cond  *ctxsync.Cond
	state WorkerState
	err   error
}

func newWorker(shard Shard, config Config, target Target, q *queue.Queue, release *ctxsync.Event) *Worker {
	w := &Worker{
		Index:   shard.Index,
		Shard:   shard,
		config:  config,
		target:  target,
		queue:   q,
		release: release,
		arena:   batch.NewArena(fmt.Sprintf("%s/%d", config.Name, shard.Index), config.Encoder.ArenaChunk),
	}
	w.cond = ctxsync.NewCond(&w.mu)
	if config.Status != nil {
		w.status = config.Status.Start(fmt.Sprintf("worker %d: %s", shard.Index, shard.Path))
	}
	return w
}

// String returns a short, human-readable string describing the
// worker's state.
func (w *Worker) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b bytes.Buffer
	fmt.Fprintf(&b, "worker %d %s %s", w.Index, w.Shard.Path, w.state)
	if w.err != nil {
		fmt.Fprintf(&b, ": %v", w.err)
	}
	return b.String()
}

// State returns the worker's current state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	return state
}

// WaitState returns when the worker's state is at least the provided
// state, or else when the context is done.
func (w *Worker) WaitState(ctx context.Context, state WorkerState) (WorkerState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	for w.state < state && err == nil {
		err = w.cond.Wait(ctx)
	}
	return w.state, err
}

// Err returns the error with which the worker's production ended, if
// any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Scope returns the worker's metrics scope.
func (w *Worker) Scope() *metrics.Scope { return &w.scope }

// Arena returns the arena from which the worker's batches are
// allocated.
func (w *Worker) Arena() *batch.Arena { return w.arena }

func (w *Worker) set(state WorkerState) {
	w.mu.Lock()
	if w.state == state {
		w.mu.Unlock()
		return
	}
	w.state = state
	w.cond.Broadcast()
	w.mu.Unlock()
	log.Debug.Printf("%s: worker %d: %s", w.config.Name, w.Index, state)
	if w.status != nil {
		w.status.Print(state)
	}
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	if w.status != nil {
		w.status.Printf("error: %v", err)
	}
}

// run runs the worker to completion: it produces the worker's
// batches, pushes its sentinel, and then waits for the release
// signal before freeing the worker's memory. The returned error is
// the worker's production error, if any.
func (w *Worker) run(ctx context.Context) error {
	ctx = metrics.ScopedContext(ctx, &w.scope)
	err := w.produce(ctx)
	// A worker that produced its whole shard still pushes its sentinel
	// if the context is canceled afterwards.
	canceled := isCanceled(ctx, err)
	if err != nil {
		w.fail(err)
		if !canceled {
			log.Error.Printf("%s: worker %d: shard %s: %v", w.config.Name, w.Index, w.Shard.Path, err)
		}
	}
	if canceled {
		log.Printf("%s: worker %d: canceled: %v", w.config.Name, w.Index, ctx.Err())
	} else {
		sentinel := queue.Item{Kind: queue.Sentinel, Worker: w.Index, Err: err}
		if perr := w.queue.Push(ctx, sentinel); perr != nil {
			w.fail(perr)
		} else {
			w.set(WorkerDrained)
		}
	}
	w.set(WorkerAwaitingRelease)
	// The wait is not interruptible: batches must stay valid until
	// the consumer says otherwise.
	_ = w.release.Wait(context.Background())
	if leaked := w.arena.Close(); leaked > 0 {
		log.Printf("warning: %s: worker %d: %d batches were not released before termination",
			w.config.Name, w.Index, leaked)
	}
	w.set(WorkerTerminated)
	if w.status != nil {
		w.status.Printf("%s: %s", WorkerTerminated, w.scope.Values())
		w.status.Done()
	}
	return w.Err()
}

// isCanceled tells whether err is the result of ctx being done.
func isCanceled(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	return err == ctx.Err() || errors.Is(errors.Canceled, err) || errors.Is(errors.Timeout, err)
}

// produce reads the worker's shard and emits its batches.
func (w *Worker) produce(ctx context.Context) (err error) {
	defer func() {
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic while producing shard %s: %v\n%s", w.Shard.Path, e, string(stack))
			err = errors.E(err, errors.Fatal)
		}
	}()
	src, err := w.target(ctx, Env{Shard: w.Shard, Arena: w.arena, Config: w.config})
	if err != nil {
		return err
	}
	if src.Close != nil {
		defer func() {
			if cerr := src.Close(); cerr != nil && err == nil {
				err = errors.E(cerr, fmt.Sprintf("close shard %s", w.Shard.Path))
			}
		}()
	}
	if src.Reader == nil || src.Encoder == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("target for shard %s provided no reader or encoder", w.Shard.Path))
	}
	batcher, err := bucket.New(w.config.BatchSize, w.config.BucketWidth, w.config.MaxBuckets, src.Encoder.SortKey)
	if err != nil {
		return err
	}
	w.set(WorkerReading)
	var (
		scope = metrics.ContextScope(ctx)
		scan  = recordio.NewScanner(src.Reader)
		rec   recordio.Record
	)
	for scan.Scan(ctx, &rec) {
		recordsRead.Incr(scope, 1)
		if group := batcher.Add(rec); group != nil {
			if err := w.emit(ctx, src.Encoder, group); err != nil {
				return err
			}
		}
	}
	// Records already parsed are emitted even if the shard could not
	// be read to the end.
	readErr := scan.Err()
	if readErr != nil && isCanceled(ctx, readErr) {
		return readErr
	}
	for _, group := range batcher.Flush() {
		if err := w.emit(ctx, src.Encoder, group); err != nil {
			return err
		}
	}
	if readErr != nil {
		return readErr
	}
	log.Debug.Printf("%s: worker %d: shard %s done: %s; arena %s",
		w.config.Name, w.Index, w.Shard.Path, w.scope.Values(), data.Size(w.arena.Bytes()))
	return nil
}

// emit encodes a group of records and pushes the resulting batch onto
// the queue. Groups that fail to encode are dropped.
func (w *Worker) emit(ctx context.Context, enc batch.Encoder, group []recordio.Record) error {
	w.set(WorkerEmitting)
	defer w.set(WorkerReading)
	scope := metrics.ContextScope(ctx)
	b, err := enc.Encode(group)
	if err != nil {
		encodingErrors.Incr(scope, 1)
		recordsDropped.Incr(scope, int64(len(group)))
		log.Printf("warning: %s: worker %d: dropping %d records (lines %d-%d): %v",
			w.config.Name, w.Index, len(group), group[0].Line, group[len(group)-1].Line, err)
		return nil
	}
	b.Worker, b.Seq = w.Index, w.seq
	w.seq++
	if err := w.queue.Push(ctx, queue.Item{Kind: queue.Batch, Batch: b, Worker: w.Index}); err != nil {
		b.Release()
		return err
	}
	batchesEmitted.Incr(scope, 1)
	if len(group) < w.config.BatchSize {
		shortBatches.Incr(scope, 1)
	}
	log.Debug.Printf("%s: worker %d: emitted %s", w.config.Name, w.Index, b)
	return nil
}
