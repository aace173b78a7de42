// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bucket implements a streaming, length-bucketed batcher.
// Records are routed by a numeric sort key into a fixed number of
// buckets of equal width; a bucket is flushed as a group as soon as
// it holds a full batch. Records with similar keys (e.g., similar
// document lengths) thus end up in the same batch, which keeps
// padding low without sorting the input.
//
// A Batcher holds at most max*size records at any time.
package bucket

import (
	"fmt"
	"math"

	"github.com/fairrank/shardfeed/recordio"
	"github.com/grailbio/base/errors"
)

// A Batcher groups records into batches of a fixed size. Batchers are
// not safe for concurrent use; each worker owns its own.
type Batcher struct {
	size, max int
	width     float64
	key       func(recordio.Record) float64

	buckets [][]recordio.Record
	pending int
}

// New returns a batcher that emits groups of size records, routing
// each record to bucket min(floor(key(r)/width), max-1). Negative keys
// go to the first bucket. A batcher with max == 1 preserves the order
// of its input.
func New(size int, width float64, max int, key func(recordio.Record) float64) (*Batcher, error) {
	switch {
	case size <= 0:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bucket: batch size %d must be positive", size))
	case max <= 0:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bucket: number of buckets %d must be positive", max))
	case !(width > 0):
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bucket: bucket width %v must be positive", width))
	case key == nil:
		return nil, errors.E(errors.Invalid, "bucket: nil sort key")
	}
	return &Batcher{
		size:    size,
		max:     max,
		width:   width,
		key:     key,
		buckets: make([][]recordio.Record, max),
	}, nil
}

// Index returns the bucket to which a record with the given key is
// routed.
func (b *Batcher) Index(key float64) int {
	if math.IsNaN(key) || key < 0 {
		return 0
	}
	i := key / b.width
	if i >= float64(b.max-1) {
		return b.max - 1
	}
	return int(i)
}

// Add adds a record to its bucket. If the bucket becomes full, its
// records are returned in the order they were added, and the bucket
// is emptied. Otherwise Add returns nil.
func (b *Batcher) Add(r recordio.Record) []recordio.Record {
	i := b.Index(b.key(r))
	if b.buckets[i] == nil {
		b.buckets[i] = make([]recordio.Record, 0, b.size)
	}
	b.buckets[i] = append(b.buckets[i], r)
	b.pending++
	if len(b.buckets[i]) < b.size {
		return nil
	}
	group := b.buckets[i]
	b.buckets[i] = nil
	b.pending -= len(group)
	return group
}

// Flush returns the records of every non-empty bucket, one group per
// bucket in bucket order, and empties the batcher. Each group is
// shorter than the batch size.
func (b *Batcher) Flush() [][]recordio.Record {
	var groups [][]recordio.Record
	for i, group := range b.buckets {
		if len(group) > 0 {
			groups = append(groups, group)
		}
		b.buckets[i] = nil
	}
	b.pending = 0
	return groups
}

// Pending returns the number of records buffered in the batcher.
func (b *Batcher) Pending() int { return b.pending }
