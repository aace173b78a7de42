// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ctxsync

import (
	"context"
	"sync"
)

// An Event is a broadcast flag that is set at most once. Any number
// of goroutines may wait for the event; all of them are released
// when it is set. Setting an already set event is a no-op.
type Event struct {
	mu   sync.Mutex
	cond *Cond
	set  bool
}

// NewEvent returns a new, unset, Event.
func NewEvent() *Event {
	e := new(Event)
	e.cond = NewCond(&e.mu)
	return e
}

// Set sets the event and wakes every waiter. Set reports whether
// this call was the one that set the event.
func (e *Event) Set() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		return false
	}
	e.set = true
	e.cond.Broadcast()
	return true
}

// IsSet tells whether the event has been set.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set or the context is done, in
// which case the context's error is returned. Callers that must not
// be interrupted pass context.Background.
func (e *Event) Wait(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for !e.set {
		if err := e.cond.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
