package taskreg

import "sync"

// ringBuffer is a bounded trailing window over captured output. Writes
// never fail; older bytes are evicted once the capacity is exceeded.
// Callers needing the full stream must redirect it to a file inside the
// sandbox; Truncated signals that eviction happened.
type ringBuffer struct {
	mu    sync.Mutex
	buf   []byte
	cap   int
	total int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += int64(len(p))
	if len(p) >= r.cap {
		r.buf = append(r.buf[:0], p[len(p)-r.cap:]...)
		return len(p), nil
	}
	r.buf = append(r.buf, p...)
	if over := len(r.buf) - r.cap; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
	return len(p), nil
}

// Snapshot returns a copy of the trailing window and whether older
// output was evicted.
func (r *ringBuffer) Snapshot() (data []byte, truncated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out, r.total > int64(len(r.buf))
}
