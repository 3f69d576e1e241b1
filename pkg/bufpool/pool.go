package bufpool

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize fits the largest UDP payload.
const DefaultBufferSize = 65535

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide datagram buffer pool.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(DefaultBufferSize)
	})
	return defaultPool
}

// Stats is a snapshot of pool accounting.
type Stats struct {
	Allocated int64
	Acquired  int64
	Released  int64
	InUse     int64
}

// Pool hands out fixed-capacity buffers. Callers acquire a buffer right
// before use and release it on every exit path.
type Pool struct {
	p         sync.Pool
	size      int
	allocated atomic.Int64
	acquired  atomic.Int64
	released  atomic.Int64
}

func New(size int) *Pool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	bp := &Pool{size: size}
	bp.p.New = func() any {
		bp.allocated.Add(1)
		return &Buffer{data: make([]byte, size), pool: bp}
	}
	return bp
}

// Size is the capacity of every buffer handed out by the pool.
func (bp *Pool) Size() int { return bp.size }

func (bp *Pool) Acquire() *Buffer {
	b := bp.p.Get().(*Buffer) //nolint:forcetypeassert
	b.Reset()
	b.inUse.Store(true)
	bp.acquired.Add(1)
	return b
}

// Release returns b to the pool. Releasing a buffer twice, or one that came
// from another pool, is a no-op.
func (bp *Pool) Release(b *Buffer) {
	if b == nil || b.pool != bp {
		return
	}
	if !b.inUse.CompareAndSwap(true, false) {
		return
	}
	bp.released.Add(1)
	bp.p.Put(b)
}

func (bp *Pool) Stats() Stats {
	acquired := bp.acquired.Load()
	released := bp.released.Load()
	return Stats{
		Allocated: bp.allocated.Load(),
		Acquired:  acquired,
		Released:  released,
		InUse:     acquired - released,
	}
}

// Buffer is a fixed-capacity byte region. Writers fill Space and Commit the
// written length; readers take Bytes.
type Buffer struct {
	pool  *Pool
	data  []byte
	n     int
	inUse atomic.Bool
}

func (b *Buffer) Space() []byte { return b.data }

// Commit positions the buffer for reading the first n bytes.
func (b *Buffer) Commit(n int) {
	if n < 0 || n > len(b.data) {
		panic("bufpool: commit out of range")
	}
	b.n = n
}

func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

func (b *Buffer) Len() int { return b.n }

func (b *Buffer) Cap() int { return len(b.data) }

func (b *Buffer) Reset() { b.n = 0 }
