package usbbridge

import (
	"sync"
	"sync/atomic"
)

// BufferPool manages reusable frame buffers for the read loop and the write
// path.
type BufferPool struct {
	pool sync.Pool
	size int
	// Metrics for monitoring pool efficiency
	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() interface{} {
			bp.creates.Add(1)
			return make([]byte, bufferSize)
		},
	}
	return bp
}

// Get retrieves a full-length buffer from the pool
func (bp *BufferPool) Get() []byte {
	bp.gets.Add(1)
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool (clears it first)
func (bp *BufferPool) Put(buf []byte) {
	if cap(buf) != bp.size {
		return // Don't pool incorrectly sized buffers
	}
	buf = buf[:bp.size]
	bp.puts.Add(1)

	clear(buf)
	bp.pool.Put(buf)
}

// Size is the length of every pooled buffer.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Stats returns pool usage statistics
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// PoolStats contains buffer pool usage statistics
type PoolStats struct {
	Size    int   `json:"size"`    // Buffer size managed by this pool
	Gets    int64 `json:"gets"`    // Number of Get() calls
	Puts    int64 `json:"puts"`    // Number of Put() calls
	Creates int64 `json:"creates"` // Number of new buffers created
}

// HitRatio returns the cache hit ratio (0.0 to 1.0)
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0.0
	}
	return 1.0 - (float64(ps.Creates) / float64(ps.Gets))
}

// getFrame copies p into a pooled frame buffer. p must not exceed the pool
// size. The returned release func gives the buffer back.
func (s *Service) getFrame(p []byte) ([]byte, func()) {
	if len(p) > s.frames.Size() {
		s.metrics.BufferPoolMisses.Add(1)
		buf := make([]byte, len(p))
		copy(buf, p)
		return buf, func() {}
	}
	s.metrics.BufferPoolHits.Add(1)
	buf := s.frames.Get()
	n := copy(buf, p)
	return buf[:n], func() { s.frames.Put(buf) }
}
