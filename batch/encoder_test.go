// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package batch

import (
	"reflect"
	"testing"

	"github.com/fairrank/shardfeed/neutrality"
	"github.com/fairrank/shardfeed/recordio"
	"github.com/grailbio/base/errors"
)

func testEncoder(t *testing.T, arena *Arena) *TokenEncoder {
	t.Helper()
	scorer, err := neutrality.New(map[string]string{"she": "f", "he": "m"}, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions
	opts.MaxDocLength = 4
	opts.MaxQueryLength = 3
	return NewTokenEncoder(opts, arena, scorer)
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Who's the CEO of X-Corp, in 2019?")
	want := []string{"who", "s", "the", "ceo", "of", "x", "corp", "in", "2019"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEncodeTriples(t *testing.T) {
	var (
		arena   = NewArena("w0", 64)
		enc     = testEncoder(t, arena)
		records = []recordio.Record{
			{Kind: recordio.Triple, Line: 3, Query: "a b c d e", Pos: "she ran", Neg: "he ran far away today"},
			{Kind: recordio.Triple, Line: 7, Query: "q", Pos: "x", Neg: "y"},
		}
	)
	b, err := enc.Encode(records)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := b.Len(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.Lines, []int{3, 7}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if rows, cols := b.Query.Shape(); rows != 2 || cols != 3 {
		t.Errorf("query shape: got %dx%d, want 2x3", rows, cols)
	}
	if rows, cols := b.Neg.Shape(); rows != 2 || cols != 4 {
		t.Errorf("neg shape: got %dx%d, want 2x4", rows, cols)
	}
	if got, want := b.Pos.Len(0), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	row := b.Pos.Row(1)
	if row[0] == 0 || row[1] != 0 {
		t.Errorf("bad padding: %v", row)
	}
	if got, want := row[0], enc.ID("x"); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.PosNeutrality[0], float32(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.NegNeutrality[1], float32(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if b.Doc != nil || b.QueryIDs != nil {
		t.Error("triple batch has tuple columns")
	}
	if got, want := arena.Outstanding(), int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	copied := b.Neg.Copy()
	b.Release()
	b.Release()
	if got, want := arena.Outstanding(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if b.Live() {
		t.Error("batch live after release")
	}
	arena.Close()
	if b.Live() {
		t.Error("batch live after arena close")
	}
	// Copies survive the arena.
	if got, want := len(copied[0]), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on access after close")
			}
		}()
		b.Pos.Row(0)
	}()
}

func TestEncodeReleaseReuses(t *testing.T) {
	var (
		arena   = NewArena("w4", 64)
		enc     = testEncoder(t, arena)
		records = []recordio.Record{
			{Kind: recordio.Triple, Line: 1, Query: "a b c", Pos: "she ran", Neg: "he ran far away"},
			{Kind: recordio.Triple, Line: 2, Query: "q", Pos: "x", Neg: "y"},
		}
	)
	var bytes int64
	for i := 0; i < 1000; i++ {
		b, err := enc.Encode(records)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := b.Pos.Row(1)[1], int32(0); got != want {
			t.Fatalf("batch %d: got %v, want %v", i, got, want)
		}
		b.Release()
		if i == 0 {
			bytes = arena.Bytes()
		}
	}
	if got, want := arena.Bytes(), bytes; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := arena.Outstanding(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEncodeTuples(t *testing.T) {
	var (
		arena   = NewArena("w1", 0)
		enc     = testEncoder(t, arena)
		records = []recordio.Record{
			{Kind: recordio.Tuple, Line: 1, QueryID: "1", DocID: "10", Query: "q one", Doc: "he said"},
			{Kind: recordio.Tuple, Line: 2, QueryID: "1", DocID: "11", Query: "q one", Doc: "nothing at all here really"},
		}
	)
	b, err := enc.Encode(records)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := b.DocIDs, []string{"10", "11"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if rows, cols := b.Doc.Shape(); rows != 2 || cols != 4 {
		t.Errorf("doc shape: got %dx%d, want 2x4", rows, cols)
	}
	if got, want := b.DocNeutrality, []float32{0, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if b.Pos != nil {
		t.Error("tuple batch has triple columns")
	}
}

func TestEncodeInvalid(t *testing.T) {
	enc := testEncoder(t, NewArena("w2", 0))
	for _, records := range [][]recordio.Record{
		nil,
		{{Kind: recordio.Triple}, {Kind: recordio.Tuple}},
		{{Kind: recordio.Kind(9)}},
	} {
		_, err := enc.Encode(records)
		if err == nil || !errors.Is(errors.Invalid, err) {
			t.Errorf("%v: got %v, want invalid error", records, err)
		}
	}
}

func TestSortKey(t *testing.T) {
	enc := testEncoder(t, NewArena("w3", 0))
	short := recordio.Record{Kind: recordio.Triple, Pos: "a", Neg: "b c"}
	long := recordio.Record{Kind: recordio.Triple, Pos: "a b c d e f g", Neg: "b"}
	if got, want := enc.SortKey(short), 2.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Truncated to the maximum document length.
	if got, want := enc.SortKey(long), 4.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	a := recordio.Record{Kind: recordio.Tuple, Query: "x", Doc: "a b"}
	b := recordio.Record{Kind: recordio.Tuple, Query: "x y", Doc: "a b"}
	c := recordio.Record{Kind: recordio.Tuple, Query: "x", Doc: "a b c"}
	if !(enc.SortKey(a) < enc.SortKey(b) && enc.SortKey(b) < enc.SortKey(c)) {
		t.Errorf("bad tuple ordering: %v %v %v", enc.SortKey(a), enc.SortKey(b), enc.SortKey(c))
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := DefaultOptions.Validate(); err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions
	opts.VocabSize = 1
	if err := opts.Validate(); err == nil || !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid error", err)
	}
	opts = DefaultOptions
	opts.MaxDocLength = 0
	if err := opts.Validate(); err == nil {
		t.Error("expected error")
	}
}
