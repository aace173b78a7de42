// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package batch defines model-ready batches and the encoders that
// produce them from raw records.
//
// A Batch is a fixed-shape unit: every text column is a Tensor of
// padded token ids with one row per record. Tensor memory is borrowed
// from a Region of the Arena of the worker that encoded the batch. It
// is valid until the batch is released, and never after that worker
// terminates. Consumers copy what they need and then call Release,
// which lets the worker reuse the memory for later batches.
package batch

import (
	"fmt"

	"github.com/fairrank/shardfeed/recordio"
	"github.com/grailbio/base/log"
)

// A Tensor is a rows×cols matrix of token ids, padded with zeros.
// Lengths record the unpadded length of each row.
type Tensor struct {
	rows, cols int
	data       []int32
	lens       []int32
	region     *Region
}

func newTensor(region *Region, rows, cols int) *Tensor {
	return &Tensor{
		rows:   rows,
		cols:   cols,
		data:   region.Alloc(rows * cols),
		lens:   region.Alloc(rows),
		region: region,
	}
}

func (t *Tensor) check() {
	switch {
	case !t.region.arena.Live():
		log.Panicf("batch: access to tensor in arena %s after its worker terminated", t.region.arena.Name())
	case !t.region.Live():
		log.Panicf("batch: access to tensor in arena %s after its batch was released", t.region.arena.Name())
	}
}

// Shape returns the tensor's dimensions.
func (t *Tensor) Shape() (rows, cols int) { return t.rows, t.cols }

// Row returns the padded row i. The returned slice aliases the
// tensor's memory.
func (t *Tensor) Row(i int) []int32 {
	t.check()
	return t.data[i*t.cols : (i+1)*t.cols]
}

// Len returns the unpadded length of row i.
func (t *Tensor) Len(i int) int {
	t.check()
	return int(t.lens[i])
}

// Copy returns a copy of the tensor's rows, each truncated to its
// unpadded length. The copy does not depend on the tensor's arena.
func (t *Tensor) Copy() [][]int32 {
	t.check()
	out := make([][]int32, t.rows)
	for i := range out {
		row := t.data[i*t.cols : i*t.cols+int(t.lens[i])]
		out[i] = append([]int32(nil), row...)
	}
	return out
}

// A Batch is an encoded group of records of the same kind.
type Batch struct {
	Kind recordio.Kind
	// Worker is the index of the worker that produced the batch and Seq
	// its position in that worker's output.
	Worker, Seq int
	// Lines holds the shard line of each record.
	Lines []int

	// Query holds the query tokens. Pos and Neg hold the documents of
	// triples; Doc holds the document of tuples.
	Query, Pos, Neg, Doc *Tensor
	// QueryIDs and DocIDs identify the rows of tuple batches.
	QueryIDs, DocIDs []string
	// Neutrality scores of the documents, one per row.
	PosNeutrality, NegNeutrality, DocNeutrality []float32

	region *Region
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return len(b.Lines) }

// Live tells whether the batch's memory is still valid.
func (b *Batch) Live() bool { return b.region == nil || b.region.Live() }

// Release tells the producing worker that the consumer is done with
// the batch, returning its memory to the worker's arena. The batch's
// tensors must not be used afterwards. Release is idempotent.
func (b *Batch) Release() {
	if b.region != nil {
		b.region.Release()
	}
}

// String returns a short description of the batch.
func (b *Batch) String() string {
	return fmt.Sprintf("batch %s worker:%d seq:%d len:%d", b.Kind, b.Worker, b.Seq, b.Len())
}
