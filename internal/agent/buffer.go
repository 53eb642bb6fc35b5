package agent

import "sync"

// TailBuffer retains the trailing bytes of a worker's output stream. Safe
// for concurrent use: the worker goroutine writes while pollers read.
type TailBuffer struct {
	mu    sync.RWMutex
	data  []byte
	size  int
	start int
	end   int
	full  bool
}

// NewTailBuffer creates a buffer retaining at most size bytes.
func NewTailBuffer(size int) *TailBuffer {
	if size <= 0 {
		size = 1
	}
	return &TailBuffer{data: make([]byte, size), size: size}
}

// Write appends output, discarding the oldest bytes once full. Never fails;
// implements io.Writer so the buffer can sit directly on a pty stream.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Only the last size bytes of an oversized write can survive anyway.
	if len(p) > b.size {
		p = p[len(p)-b.size:]
	}

	for _, c := range p {
		b.data[b.end] = c
		b.end = (b.end + 1) % b.size
		if b.full {
			b.start = b.end
		} else if b.end == b.start {
			b.full = true
		}
	}
	return len(p), nil
}

// Len returns the number of retained bytes.
func (b *TailBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lenLocked()
}

func (b *TailBuffer) lenLocked() int {
	if b.full {
		return b.size
	}
	if b.end >= b.start {
		return b.end - b.start
	}
	return b.size - b.start + b.end
}

// Bytes returns a copy of the retained output, oldest first.
func (b *TailBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, 0, b.lenLocked())
	if b.full || b.end < b.start {
		out = append(out, b.data[b.start:]...)
		out = append(out, b.data[:b.end]...)
	} else {
		out = append(out, b.data[b.start:b.end]...)
	}
	return out
}

// String returns the retained output as a string.
func (b *TailBuffer) String() string {
	return string(b.Bytes())
}

// Reset clears the buffer.
func (b *TailBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.end, b.full = 0, 0, false
}
