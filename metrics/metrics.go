// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics defines counters that are maintained per worker in
// a Scope and merged into feed-wide totals. Counters are declared once
// (usually as package-level variables) and then updated through the
// scope of the worker that observes the event.
package metrics

import (
	"sync"
	"sync/atomic"
)

var (
	mu sync.Mutex
	// metrics maps all registered metrics by id. We reserve index 0 to minimize
	// the chances of zero-valued metrics instances begin used uninitialized.
	metrics = []Metric{nil}
)

func newMetric(makeMetric func(id int) Metric) {
	mu.Lock()
	metrics = append(metrics, makeMetric(len(metrics)))
	mu.Unlock()
}

func metric(id int) Metric {
	mu.Lock()
	defer mu.Unlock()
	return metrics[id]
}

// Metric is a registered metric; instances of it live in Scopes.
type Metric interface {
	// Name is the name under which the metric is reported.
	Name() string

	metricID() int
	newInstance() interface{}
	merge(interface{}, interface{})
	value(interface{}) int64
}

// A Counter is a monotonically increasing count.
type Counter struct {
	id   int
	name string
}

// NewCounter registers and returns a new counter reported under the
// provided name.
func NewCounter(name string) Counter {
	var c Counter
	newMetric(func(id int) Metric {
		c = Counter{id: id, name: name}
		return c
	})
	return c
}

// Name implements Metric.
func (c Counter) Name() string { return c.name }

// Value returns the counter's value in the provided scope.
func (c Counter) Value(scope *Scope) int64 {
	return atomic.LoadInt64(scope.instance(c).(*int64))
}

// Incr increments the counter's value in the provided scope by n.
func (c Counter) Incr(scope *Scope, n int64) {
	atomic.AddInt64(scope.instance(c).(*int64), n)
}

func (c Counter) metricID() int { return c.id }
func (c Counter) newInstance() interface{} {
	return new(int64)
}
func (c Counter) merge(x, y interface{}) {
	atomic.AddInt64(x.(*int64), atomic.LoadInt64(y.(*int64)))
}
func (c Counter) value(x interface{}) int64 {
	return atomic.LoadInt64(x.(*int64))
}
