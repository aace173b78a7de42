// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package batch

import (
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/must"
)

// Poison is the value written over arena memory when it is returned
// to the arena or when the arena is closed, so that stale reads are
// recognizable.
const Poison = int32(-0x5a5a5a5a)

// An Arena owns the tensor memory of the batches produced by a single
// worker. Memory is handed out in chunks through regions: each batch
// allocates from its own Region, and the region's chunks belong to
// that batch until it is released. Released chunks go back to the
// arena's free list and are reused by later regions, so the arena
// holds only the memory of the batches that are still outstanding
// (plus the free list they leave behind).
//
// Closing the arena invalidates every region. Memory is poisoned and
// any access through a Tensor panics.
//
// NewRegion, Region.Alloc and Close must be called by the owning
// worker only; the remaining methods are safe for concurrent use.
type Arena struct {
	name      string
	chunkSize int

	mu   sync.Mutex
	free [][]int32
	live map[*Region]bool

	bytes       int64
	outstanding int64
	closed      int32
}

// NewArena returns a new arena that allocates memory in chunks of
// chunkSize int32 values.
func NewArena(name string, chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultOptions.ArenaChunk
	}
	return &Arena{name: name, chunkSize: chunkSize, live: make(map[*Region]bool)}
}

// Name returns the arena's name, usually that of its worker.
func (a *Arena) Name() string { return a.name }

// NewRegion returns a new region whose memory is owned by the caller
// until the region is released.
func (a *Arena) NewRegion() *Region {
	must.Truef(a.Live(), "arena %s: new region after close", a.name)
	r := &Region{arena: a}
	a.mu.Lock()
	a.live[r] = true
	a.mu.Unlock()
	atomic.AddInt64(&a.outstanding, 1)
	return r
}

// Bytes returns the number of bytes currently held by the arena,
// whether owned by a region or on the free list.
func (a *Arena) Bytes() int64 { return atomic.LoadInt64(&a.bytes) }

// Outstanding returns the number of regions that have not been
// released.
func (a *Arena) Outstanding() int64 { return atomic.LoadInt64(&a.outstanding) }

// Live tells whether the arena's memory is still valid.
func (a *Arena) Live() bool { return atomic.LoadInt32(&a.closed) == 0 }

// chunk returns a zeroed chunk of at least n values. Requests larger
// than the chunk size get a dedicated chunk.
func (a *Arena) chunk(n int) []int32 {
	if n > a.chunkSize {
		atomic.AddInt64(&a.bytes, int64(4*n))
		return make([]int32, n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if k := len(a.free); k > 0 {
		c := a.free[k-1]
		a.free[k-1] = nil
		a.free = a.free[:k-1]
		for i := range c {
			c[i] = 0
		}
		return c
	}
	atomic.AddInt64(&a.bytes, int64(4*a.chunkSize))
	return make([]int32, a.chunkSize)
}

// put returns the chunks of released region r to the free list.
// Dedicated chunks are dropped.
func (a *Arena) put(r *Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	atomic.AddInt64(&a.outstanding, -1)
	if !a.Live() {
		return
	}
	delete(a.live, r)
	for _, c := range r.chunks {
		poison(c)
		if len(c) == a.chunkSize {
			a.free = append(a.free, c)
		} else {
			atomic.AddInt64(&a.bytes, -int64(4*len(c)))
		}
	}
}

// Close invalidates all memory handed out by the arena and returns
// the number of regions that were still outstanding. Close is
// idempotent; subsequent calls return 0.
func (a *Arena) Close() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return 0
	}
	for r := range a.live {
		for _, c := range r.chunks {
			poison(c)
		}
	}
	a.live = nil
	a.free = nil
	atomic.StoreInt64(&a.bytes, 0)
	return a.Outstanding()
}

func poison(c []int32) {
	for i := range c {
		c[i] = Poison
	}
}

// A Region is the set of chunks owned by a single batch.
type Region struct {
	arena    *Arena
	chunks   [][]int32
	free     []int32
	released int32
}

// Alloc returns a zeroed slice of n values owned by the region.
func (r *Region) Alloc(n int) []int32 {
	must.Truef(r.Live(), "arena %s: alloc in dead region", r.arena.name)
	if n > r.arena.chunkSize {
		c := r.arena.chunk(n)
		r.chunks = append(r.chunks, c)
		return c
	}
	if len(r.free) < n {
		c := r.arena.chunk(n)
		r.chunks = append(r.chunks, c)
		r.free = c
	}
	p := r.free[:n:n]
	r.free = r.free[n:]
	return p
}

// Live tells whether the region's memory is still valid: it has not
// been released and its arena has not been closed.
func (r *Region) Live() bool {
	return atomic.LoadInt32(&r.released) == 0 && r.arena.Live()
}

// Release returns the region's memory to its arena. Release is
// idempotent.
func (r *Region) Release() {
	if !atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		return
	}
	r.arena.put(r)
}
