// Package capture keeps bounded windows of bridge output in memory.
package capture

import "sync"

// RingBuffer holds the most recent Cap() bytes written to it and silently
// discards older data. It implements io.Writer and is safe for concurrent use.
//
//	Write "abc" into a 5-byte buffer: Bytes() == "abc"
//	Write "defg":                      Bytes() == "cdefg"
type RingBuffer struct {
	mu   sync.RWMutex
	data []byte
	head int // index of the next write
	n    int // number of valid bytes, <= len(data)
}

// NewRingBuffer creates a buffer that retains the last size bytes.
// A non-positive size is treated as 1.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Write appends p, overwriting the oldest bytes when full. It never fails.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.write(p)
	return len(p), nil
}

func (r *RingBuffer) write(p []byte) {
	total := len(p)
	size := len(r.data)

	// Only the trailing size bytes of p can survive.
	if len(p) > size {
		p = p[len(p)-size:]
	}

	for len(p) > 0 {
		c := copy(r.data[r.head:], p)
		p = p[c:]
		r.head = (r.head + c) % size
	}

	r.n += total
	if r.n > size {
		r.n = size
	}
}

// Bytes returns a copy of the buffered data, oldest first.
func (r *RingBuffer) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, 0, r.n)
	start := r.head - r.n
	if start < 0 {
		out = append(out, r.data[len(r.data)+start:]...)
		start = 0
	}
	return append(out, r.data[start:r.head]...)
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Cap returns the buffer capacity in bytes.
func (r *RingBuffer) Cap() int {
	return len(r.data)
}

// Reset discards all buffered data.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.n = 0
}

// ReplaceWith atomically resets the buffer and writes p, so concurrent
// readers never observe the empty intermediate state.
func (r *RingBuffer) ReplaceWith(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.n = 0
	r.write(p)
}
