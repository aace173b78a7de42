// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package recordio

import (
	"context"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
)

// fuzzRecords creates n fuzzed triples with distinct line numbers.
func fuzzRecords(fz *fuzz.Fuzzer, n int) []Record {
	records := make([]Record, n)
	for i := range records {
		fz.Fuzz(&records[i].Query)
		fz.Fuzz(&records[i].Pos)
		fz.Fuzz(&records[i].Neg)
		records[i].Kind = Triple
		records[i].Line = i + 1
	}
	return records
}

func TestSliceReader(t *testing.T) {
	const N = 1000
	var (
		fz      = fuzz.NewWithSeed(12345)
		records = fuzzRecords(fz, N)
		r       = SliceReader(records)
		out     = make([]Record, N)
		ctx     = context.Background()
	)
	n, err := ReadFull(ctx, r, out)
	if err != nil && err != EOF {
		t.Fatal(err)
	}
	if got, want := n, N; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if err == nil {
		n, err := ReadFull(ctx, r, make([]Record, 1))
		if got, want := err, EOF; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := n, 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if !reflect.DeepEqual(records, out) {
		t.Error("records do not match")
	}
}

func TestMultiReader(t *testing.T) {
	var (
		fz      = fuzz.NewWithSeed(999)
		records = fuzzRecords(fz, 300)
		ctx     = context.Background()
	)
	r := MultiReader(
		SliceReader(records[:10]),
		EmptyReader{},
		SliceReader(records[10:200]),
		SliceReader(records[200:]),
	)
	all, err := ReadAll(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(records, all) {
		t.Error("records do not match")
	}
	if _, err := r.Read(ctx, make([]Record, 1)); err != EOF {
		t.Errorf("got %v, want EOF", err)
	}
}

func TestMultiReaderErr(t *testing.T) {
	var (
		ctx      = context.Background()
		expected = errors.E(errors.Invalid, "bad shard")
		r        = MultiReader(SliceReader([]Record{{Line: 1}}), ErrReader(expected), SliceReader([]Record{{Line: 2}}))
	)
	all, err := ReadAll(ctx, r)
	if got, want := err, expected; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(all), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Errors are sticky.
	if _, err := r.Read(ctx, make([]Record, 1)); err != expected {
		t.Errorf("got %v, want %v", err, expected)
	}
}

type closer struct{ n int }

func (c *closer) Close() error {
	c.n++
	return nil
}

func TestClosingReader(t *testing.T) {
	var (
		c   closer
		ctx = context.Background()
		r   = &ClosingReader{Reader: SliceReader([]Record{{Line: 1}, {Line: 2}}), Closer: &c}
	)
	if _, err := ReadAll(ctx, r); err != nil {
		t.Fatal(err)
	}
	if got, want := c.n, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if got, want := c.n, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
