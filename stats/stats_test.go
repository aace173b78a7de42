// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"sync"
	"testing"
)

func TestStats(t *testing.T) {
	coll := NewMap()
	var (
		x = coll.Int("x")
		_ = coll.Int("y")
	)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(123)
	x.Add(123)
	if got, want := x.Get(), int64(123*2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	all := make(Values)
	coll.AddAll(all)
	coll.AddAll(all)
	if got, want := len(all), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["x"], int64(123*4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["y"], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := coll.Snapshot().String(), "x:246 y:0"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSetMax(t *testing.T) {
	var (
		coll = NewMap()
		hw   = coll.Int("highwater")
		wg   sync.WaitGroup
	)
	const N = 100
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func(i int) {
			defer wg.Done()
			hw.SetMax(int64(i))
		}(i)
	}
	wg.Wait()
	if got, want := hw.Get(), int64(N-1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	hw.SetMax(3)
	if got, want := hw.Get(), int64(N-1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var nilInt *Int
	nilInt.SetMax(10)
	if got, want := nilInt.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
