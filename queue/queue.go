// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package queue implements the bounded, many-producer, FIFO channel
// through which workers hand batches to the consumer. Items are
// tagged: a Batch item carries an encoded batch; a Sentinel item
// marks the end of a worker's output.
//
// Push blocks while the queue is full and Pop blocks while it is
// empty. Both wait on context-aware condition variables and can be
// abandoned by canceling their context.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/fairrank/shardfeed/batch"
	"github.com/fairrank/shardfeed/ctxsync"
	"github.com/fairrank/shardfeed/stats"
	"github.com/grailbio/base/errors"
)

// Kind tags a queue item.
type Kind int

const (
	// Batch items carry a batch.
	Batch Kind = iota
	// Sentinel items mark the end of a worker's output.
	Sentinel
)

func (k Kind) String() string {
	switch k {
	case Batch:
		return "batch"
	case Sentinel:
		return "sentinel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// An Item is a unit of transfer through a Queue.
type Item struct {
	Kind Kind
	// Batch is set for Batch items.
	Batch *batch.Batch
	// Worker is the index of the worker that pushed the item.
	Worker int
	// Err is the error, if any, with which the worker's production
	// ended. It is set only on sentinels.
	Err error
}

// String returns a short description of the item.
func (it Item) String() string {
	switch it.Kind {
	case Sentinel:
		if it.Err != nil {
			return fmt.Sprintf("sentinel worker:%d err:%v", it.Worker, it.Err)
		}
		return fmt.Sprintf("sentinel worker:%d", it.Worker)
	default:
		return fmt.Sprintf("%s worker:%d", it.Kind, it.Worker)
	}
}

// A Queue is a bounded FIFO queue of items. Its length never exceeds
// its capacity. Items pushed by a single producer are popped in the
// order they were pushed; items from different producers interleave
// arbitrarily.
type Queue struct {
	mu                sync.Mutex
	notFull, notEmpty *ctxsync.Cond
	items             []Item
	head, len         int

	stats                          *stats.Map
	push, pop, waitFull, waitEmpty *stats.Int
	highWater                      *stats.Int
}

// New returns a new queue with the provided capacity, which must be
// positive.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("queue: capacity %d must be positive", capacity))
	}
	q := &Queue{
		items: make([]Item, capacity),
		stats: stats.NewMap(),
	}
	q.notFull = ctxsync.NewCond(&q.mu)
	q.notEmpty = ctxsync.NewCond(&q.mu)
	q.push = q.stats.Int("push")
	q.pop = q.stats.Int("pop")
	q.waitFull = q.stats.Int("waitfull")
	q.waitEmpty = q.stats.Int("waitempty")
	q.highWater = q.stats.Int("highwater")
	return q, nil
}

// Push appends an item to the queue, blocking while the queue is
// full. Push returns the context's error if the context completes
// before there is room, in which case the item is not enqueued.
func (q *Queue) Push(ctx context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.len == len(q.items) {
		q.waitFull.Add(1)
		if err := q.notFull.Wait(ctx); err != nil {
			return err
		}
	}
	q.items[(q.head+q.len)%len(q.items)] = item
	q.len++
	q.push.Add(1)
	q.highWater.SetMax(int64(q.len))
	q.notEmpty.Broadcast()
	return nil
}

// Pop removes and returns the item at the head of the queue, blocking
// while the queue is empty. Pop returns the context's error if the
// context completes before an item is available.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.len == 0 {
		q.waitEmpty.Add(1)
		if err := q.notEmpty.Wait(ctx); err != nil {
			return Item{}, err
		}
	}
	item := q.items[q.head]
	q.items[q.head] = Item{}
	q.head = (q.head + 1) % len(q.items)
	q.len--
	q.pop.Add(1)
	q.notFull.Broadcast()
	return item, nil
}

// Len returns the number of items currently in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len
}

// Cap returns the queue's capacity.
func (q *Queue) Cap() int { return len(q.items) }

// HighWater returns the largest length the queue has reached.
func (q *Queue) HighWater() int { return int(q.highWater.Get()) }

// Stats returns a snapshot of the queue's statistics: the number of
// pushes and pops, the number of times a producer waited on a full
// queue or a consumer on an empty one, and the high-water mark.
func (q *Queue) Stats() stats.Values { return q.stats.Snapshot() }
