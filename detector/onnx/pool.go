package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrPoolClosed is returned by Get once the pool has been closed
var ErrPoolClosed = errors.New("session pool closed")

// Pool is a simple session pool to run multiple batches of the same Model
// concurrently
type Pool struct {
	// pool of sessions
	sessions chan *ort.DynamicAdvancedSession
	// size of pool
	size int
	// mu guards closed so sessions are never returned to a closed channel
	mu     sync.Mutex
	closed bool
}

// NewPool creates a new session pool with size sessions of the model
func NewPool(size int, modelFile, inputName, outputName string,
	threads int) (*Pool, error) {

	if size <= 0 {
		return nil, fmt.Errorf("pool size %d must be positive", size)
	}

	p := &Pool{
		sessions: make(chan *ort.DynamicAdvancedSession, size),
		size:     size,
	}

	for i := 0; i < size; i++ {
		s, err := newSession(modelFile, inputName, outputName, threads)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			p.Close()
			return nil, err
		}

		// attach to pool
		p.Return(s)
	}

	return p, nil
}

// newSession loads the model into a session accepting a dynamic batch size
func newSession(modelFile, inputName, outputName string,
	threads int) (*ort.DynamicAdvancedSession, error) {

	options, err := ort.NewSessionOptions()

	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}

	defer options.Destroy()

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("error setting thread count: %w", err)
		}
	}

	s, err := ort.NewDynamicAdvancedSession(modelFile, []string{inputName},
		[]string{outputName}, options)

	if err != nil {
		return nil, fmt.Errorf("error loading model %s: %w", modelFile, err)
	}

	return s, nil
}

// Get a session from the pool, waiting until one is free or the context
// is done
func (p *Pool) Get(ctx context.Context) (*ort.DynamicAdvancedSession, error) {

	select {
	case s, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}

		return s, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Return a session to the pool
func (p *Pool) Return(s *ort.DynamicAdvancedSession) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = s.Destroy()
		return
	}

	select {
	case p.sessions <- s:
	default:
		// pool is full
		_ = s.Destroy()
	}
}

// Size returns the number of sessions the pool was created with
func (p *Pool) Size() int {
	return p.size
}

// Close the pool and destroy all sessions in it.  Sessions checked out at
// the time of closing are destroyed when they are returned.
func (p *Pool) Close() {

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	close(p.sessions)
	p.mu.Unlock()

	// destroy all idle sessions
	for next := range p.sessions {
		_ = next.Destroy()
	}
}
