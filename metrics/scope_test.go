// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics_test

import (
	"testing"

	"github.com/fairrank/shardfeed/metrics"
)

func TestScopeEmpty(t *testing.T) {
	var (
		s metrics.Scope
		c = metrics.NewCounter("empty")
	)
	if got, want := c.Value(&s), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScopeMerge(t *testing.T) {
	c := metrics.NewCounter("merge")

	for _, test := range []struct {
		incrA, incrB int64
	}{
		{0, 0},
		{0, 1},
		{2, 0},
		{100, 200},
	} {
		var a, b metrics.Scope
		c.Incr(&a, test.incrA)
		c.Incr(&b, test.incrB)
		a.Merge(&b)
		if got, want := c.Value(&a), test.incrA+test.incrB; got != want {
			t.Errorf("%v: got %v, want %v", test, got, want)
		}
		a.Reset(&b)
		if got, want := c.Value(&a), test.incrB; got != want {
			t.Errorf("%v: got %v, want %v", test, got, want)
		}
		c.Incr(&a, test.incrA)
		if got, want := c.Value(&a), test.incrA+test.incrB; got != want {
			t.Errorf("%v: got %v, want %v", test, got, want)
		}
	}
}

func TestScopeValues(t *testing.T) {
	var (
		s  metrics.Scope
		c0 = metrics.NewCounter("values.x")
		c1 = metrics.NewCounter("values.y")
		_  = metrics.NewCounter("values.unused")
	)
	c0.Incr(&s, 3)
	c1.Incr(&s, 4)
	vals := s.Values()
	if got, want := len(vals), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vals.String(), "values.x:3 values.y:4"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	s.Reset(nil)
	if got, want := len(s.Values()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
