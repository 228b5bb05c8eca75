package codec

import (
	"bytes"
	"sync"
)

// BufferPool manages reusable encode buffers.
type BufferPool struct {
	size int       // Initial capacity of each buffer.
	pool sync.Pool // Thread-safe pool of buffers.
}

// NewBufferPool creates a pool whose buffers start with the given capacity.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, size))
			},
		},
	}
}

// Get retrieves an empty buffer from the pool.
func (bp *BufferPool) Get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool. Buffers that grew well past the
// initial size are dropped.
func (bp *BufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > bp.size*4 {
		return
	}
	buf.Reset()
	bp.pool.Put(buf)
}
