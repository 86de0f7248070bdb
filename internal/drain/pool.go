package drain

import (
	"bytes"
	"sync"
)

const defaultBufferSize = 32 << 10 // 32 KiB

// BufferPool hands out reusable byte buffers for draining response bodies.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool builds a pool whose fresh buffers start with the given capacity.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = defaultBufferSize
	}
	bp := &BufferPool{}
	bp.pool.New = func() any {
		return bytes.NewBuffer(make([]byte, 0, size))
	}
	return bp
}

// Get returns an empty buffer.
func (bp *BufferPool) Get() *bytes.Buffer {
	b := bp.pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns a buffer to the pool. Oversized buffers are dropped so one huge
// body does not pin memory for the life of the process.
func (bp *BufferPool) Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBufferSize {
		return
	}
	bp.pool.Put(b)
}

const maxPooledBufferSize = 4 << 20
