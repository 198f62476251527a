package onnx

import (
	"sync"
)

// bufferPool holds a set of output buffer pools keyed by buffer length.  A
// request's batch size varies with the image size so one pool is kept per
// tile count seen.
type bufferPool struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

// newBufferPool returns an empty bufferPool
func newBufferPool() *bufferPool {
	return &bufferPool{
		pools: make(map[int]*sync.Pool),
	}
}

// pool returns the pool for buffers of the given length, creating it on
// first use
func (b *bufferPool) pool(size int) *sync.Pool {

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[size]

	if !ok {
		p = &sync.Pool{
			New: func() any {
				buf := make([]float32, size)
				return &buf
			},
		}

		b.pools[size] = p
	}

	return p
}

// Get returns a []float32 of the given length.  Its contents are
// overwritten by inference so it is not zeroed.
func (b *bufferPool) Get(size int) []float32 {
	return *(b.pool(size).Get().(*[]float32))
}

// Put returns a buffer obtained from Get back to its pool
func (b *bufferPool) Put(buf []float32) {

	if len(buf) == 0 {
		return
	}

	b.pool(len(buf)).Put(&buf)
}
