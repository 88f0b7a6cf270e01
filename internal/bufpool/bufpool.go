// File: internal/bufpool/bufpool.go
// Package bufpool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-classed byte buffer free lists. Each class is a bounded channel;
// Get falls back to allocation when a class is empty and Put drops buffers
// when it is full.

package bufpool

import "sync/atomic"

const (
	minClassShift = 8  // 256 B
	maxClassShift = 17 // 128 KiB
	classDepth    = 1024
)

// Stats counts pool traffic.
type Stats struct {
	Hits    int64
	Misses  int64
	Dropped int64
}

// Pool hands out buffers with len 0 and cap of at least the requested size.
type Pool struct {
	classes [maxClassShift - minClassShift + 1]chan []byte

	hits, misses, dropped atomic.Int64
}

// New creates an empty pool.
func New() *Pool {
	p := &Pool{}
	for i := range p.classes {
		p.classes[i] = make(chan []byte, classDepth)
	}
	return p
}

// classFor returns the smallest class holding size, or -1 when size exceeds
// the largest class.
func classFor(size int) int {
	for i := 0; i <= maxClassShift-minClassShift; i++ {
		if size <= 1<<(minClassShift+i) {
			return i
		}
	}
	return -1
}

// Get returns an empty buffer whose capacity is at least size.
func (p *Pool) Get(size int) []byte {
	c := classFor(size)
	if c < 0 {
		p.misses.Add(1)
		return make([]byte, 0, size)
	}
	select {
	case b := <-p.classes[c]:
		p.hits.Add(1)
		return b[:0]
	default:
		p.misses.Add(1)
		return make([]byte, 0, 1<<(minClassShift+c))
	}
}

// Put recycles b. Buffers whose capacity is not exactly a class size were
// not produced by Get and are dropped.
func (p *Pool) Put(b []byte) {
	c := classFor(cap(b))
	if c < 0 || cap(b) != 1<<(minClassShift+c) {
		p.dropped.Add(1)
		return
	}
	select {
	case p.classes[c] <- b[:0]:
	default:
		p.dropped.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Hits:    p.hits.Load(),
		Misses:  p.misses.Load(),
		Dropped: p.dropped.Load(),
	}
}

var shared = New()

// Default returns the process-wide pool used by the frame encoder.
func Default() *Pool { return shared }
