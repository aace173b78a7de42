// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fairrank/shardfeed/batch"
	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"golang.org/x/sync/errgroup"
)

func batchItem(worker, seq int) Item {
	return Item{Kind: Batch, Worker: worker, Batch: &batch.Batch{Worker: worker, Seq: seq}}
}

func TestQueue(t *testing.T) {
	if _, err := New(0); err == nil || !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid error", err)
	}
	q, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := q.Push(ctx, batchItem(0, i)); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := q.Len(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Wrap around the ring.
	for i := 3; i < 10; i++ {
		item, err := q.Pop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := item.Batch.Seq, i-3; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if err := q.Push(ctx, batchItem(0, i)); err != nil {
			t.Fatal(err)
		}
	}
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if got, want := q.Push(canceled, Item{Kind: Sentinel, Worker: 0}), context.Canceled; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQueueFullCanceled(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Push(context.Background(), batchItem(0, 0)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if got, want := q.Push(ctx, Item{Kind: Sentinel}), context.DeadlineExceeded; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := q.Len(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := q.Stats()["waitfull"], int64(1); got < want {
		t.Errorf("got %v, want >= %v", got, want)
	}
}

func TestQueueEmptyCanceled(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	if _, err := q.Pop(ctx); err != context.Canceled {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}

func TestQueueBlocking(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := q.Push(ctx, batchItem(0, 0)); err != nil {
		t.Fatal(err)
	}
	pushed := make(chan error)
	go func() {
		pushed <- q.Push(ctx, Item{Kind: Sentinel, Worker: 0})
	}()
	select {
	case <-pushed:
		t.Fatal("push did not block on a full queue")
	case <-time.After(10 * time.Millisecond):
	}
	item, err := q.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := item.Kind, Batch; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := <-pushed; err != nil {
		t.Fatal(err)
	}
	item, err = q.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := item.Kind, Sentinel; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := q.HighWater(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestQueueRandom runs several producers against one consumer with
// random delays, checking that the queue never exceeds its capacity,
// that each producer's items arrive in order, and that each producer's
// sentinel is the last item seen from it.
func TestQueueRandom(t *testing.T) {
	fz := fuzz.NewWithSeed(271828)
	for iter := 0; iter < 10; iter++ {
		var capacity, producers, items uint8
		fz.Fuzz(&capacity)
		fz.Fuzz(&producers)
		fz.Fuzz(&items)
		capacity = capacity%4 + 1
		producers = producers%6 + 1
		items = items % 40
		delays := make([]time.Duration, int(producers)+1)
		for i := range delays {
			var d uint8
			fz.Fuzz(&d)
			delays[i] = time.Duration(d%50) * time.Microsecond
		}

		q, err := New(int(capacity))
		if err != nil {
			t.Fatal(err)
		}
		var (
			ctx  = context.Background()
			g    errgroup.Group
			done = make(chan struct{})
			wg   sync.WaitGroup
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if n := q.Len(); n > q.Cap() {
					t.Errorf("queue length %d exceeds capacity %d", n, q.Cap())
				}
			}
		}()
		for p := 0; p < int(producers); p++ {
			p := p
			g.Go(func() error {
				for i := 0; i < int(items); i++ {
					time.Sleep(delays[p])
					if err := q.Push(ctx, batchItem(p, i)); err != nil {
						return err
					}
				}
				return q.Push(ctx, Item{Kind: Sentinel, Worker: p})
			})
		}
		next := make([]int, producers)
		for sentinels := 0; sentinels < int(producers); {
			time.Sleep(delays[producers])
			item, err := q.Pop(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if item.Kind == Sentinel {
				if got, want := next[item.Worker], int(items); got != want {
					t.Errorf("worker %d: sentinel after %d items, want %d", item.Worker, got, want)
				}
				next[item.Worker] = -1
				sentinels++
				continue
			}
			if got, want := item.Batch.Seq, next[item.Worker]; got != want {
				t.Errorf("worker %d: got %v, want %v", item.Worker, got, want)
			}
			next[item.Worker]++
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
		close(done)
		wg.Wait()
		if got, want := q.Len(), 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if hw := q.HighWater(); hw > int(capacity) {
			t.Errorf("high water %d exceeds capacity %d", hw, capacity)
		}
		vals := q.Stats()
		if got, want := vals["push"], int64(int(producers)*(int(items)+1)); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := vals["pop"], vals["push"]; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
