// Package bufferpool implements a fixed-capacity pool of page-sized
// buffers leased out with automatic, scope-bound return.
package bufferpool

import (
	"fmt"
	"sync"

	"github.com/nainya/triplestore/internal/storage/page"
	"github.com/nainya/triplestore/internal/types"
)

// DefaultCapacity is the default number of page buffers held by a pool
// (262,144 pages of page.Size bytes each, i.e. 2 GiB).
const DefaultCapacity = 262144

// Pool is a fixed set of page-sized heap buffers. free + leased == capacity
// at all times; lease never blocks and never grows the pool.
type Pool struct {
	mu       sync.Mutex
	free     [][]byte
	capacity int
	leased   int
}

// New allocates a pool of capacity page-sized buffers up front.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{capacity: capacity}
	p.free = make([][]byte, 0, capacity)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, make([]byte, page.Size))
	}
	return p
}

// Capacity returns the pool's fixed buffer count.
func (p *Pool) Capacity() int { return p.capacity }

// Leased returns the number of buffers currently on loan.
func (p *Pool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leased
}

// Buffer is a leased page-sized slice that must be returned via Release.
// Its contents are undefined until written.
type Buffer struct {
	pool *Pool
	buf  []byte
	done bool
}

// Bytes exposes the underlying page-sized slice.
func (b *Buffer) Bytes() []byte { return b.buf }

// Release returns the buffer to its pool. Releasing a buffer more than
// once is a programming error and panics.
func (b *Buffer) Release() {
	if b.done {
		panic("bufferpool: buffer released twice")
	}
	b.done = true
	b.pool.release(b.buf)
}

// Lease pops a buffer from the free list; its contents are undefined.
// Returns types.ErrResource if the pool is exhausted.
func (p *Pool) Lease() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, fmt.Errorf("%w: buffer pool exhausted (capacity %d)", types.ErrResource, p.capacity)
	}
	n := len(p.free) - 1
	buf := p.free[n]
	p.free = p.free[:n]
	p.leased++
	return &Buffer{pool: p, buf: buf}, nil
}

// LeaseZeroed is like Lease but zero-fills the buffer before returning it.
func (p *Pool) LeaseZeroed() (*Buffer, error) {
	b, err := p.Lease()
	if err != nil {
		return nil, err
	}
	for i := range b.buf {
		b.buf[i] = 0
	}
	return b, nil
}

func (p *Pool) release(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.capacity {
		panic("bufferpool: release exceeds capacity, free list already full")
	}
	p.free = append(p.free, buf)
	p.leased--
}
