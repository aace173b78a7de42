// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/fairrank/shardfeed/stats"
)

// Scope is a collection of metric instances. The zero Scope is empty
// and ready to use.
type Scope struct {
	storage unsafe.Pointer // stores *[]interface{}
}

// Merge merges instances from Scope u into Scope s.
func (s *Scope) Merge(u *Scope) {
	for i, inst := range u.list() {
		if inst == nil {
			continue
		}
		m := metric(i)
		m.merge(s.instance(m), inst)
	}
}

// Reset resets the scope s to u. It is reset to its initial (zero) state
// if u is nil.
func (s *Scope) Reset(u *Scope) {
	if u == nil {
		atomic.StorePointer(&s.storage, nil)
	} else {
		atomic.StorePointer(&s.storage, atomic.LoadPointer(&u.storage))
	}
}

// Values returns a snapshot of the metrics that have instances in
// this scope, keyed by metric name. Metrics sharing a name are
// summed.
func (s *Scope) Values() stats.Values {
	vals := make(stats.Values)
	for i, inst := range s.list() {
		if inst == nil {
			continue
		}
		m := metric(i)
		vals[m.Name()] += m.value(inst)
	}
	return vals
}

// instance returns the instance associated with metrics m in the scope s. A new
// instance is created if none exists yet.
func (s *Scope) instance(m Metric) interface{} {
	if inst := s.load(m); inst != nil {
		return inst
	}
	for {
		ptr := atomic.LoadPointer(&s.storage)
		var list []interface{}
		if ptr != nil {
			list = append(list, *(*[]interface{})(ptr)...)
		}
		for len(list) <= m.metricID() {
			list = append(list, nil)
		}
		if inst := list[m.metricID()]; inst != nil {
			return inst
		}
		inst := m.newInstance()
		if inst == nil {
			panic("metric: metric returned nil instance")
		}
		list[m.metricID()] = inst
		if ok := atomic.CompareAndSwapPointer(&s.storage, ptr, unsafe.Pointer(&list)); ok {
			return inst
		}
	}
}

// load loads the metric m from the Scope s, returning nil if the
// scope has no instance for it.
func (s *Scope) load(m Metric) interface{} {
	list := s.list()
	if len(list) <= m.metricID() {
		return nil
	}
	return list[m.metricID()]
}

// list returns the slice of instances in this scope.
func (s *Scope) list() []interface{} {
	list := atomic.LoadPointer(&s.storage)
	if list == nil {
		return nil
	}
	return *(*[]interface{})(list)
}

// contextKeyType is used to create unique context key for scopes,
// available only to code in this package.
type contextKeyType struct{}

// contextKey is the key used to attach scopes to contexts.
var contextKey contextKeyType

// ScopedContext returns a context with the provided scope attached.
// The scope may be retrieved by ContextScope.
func ScopedContext(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, contextKey, scope)
}

// ContextScope returns the scope attached to the provided context.
// If the context has no scope, a fresh, detached scope is returned
// so that instrumented code can run outside of a worker.
func ContextScope(ctx context.Context) *Scope {
	s := ctx.Value(contextKey)
	if s == nil {
		return new(Scope)
	}
	return s.(*Scope)
}
