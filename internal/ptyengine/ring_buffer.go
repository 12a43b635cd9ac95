package ptyengine

import "sync"

// Chunk is one timestamped unit of PTY output.
type Chunk struct {
	Data      []byte
	Timestamp int64 // unix millis
}

const (
	defaultChunkCap = 1000
	defaultByteCap  = 1 << 20 // 1 MiB
)

// RingBuffer is a bounded, thread-safe queue of output Chunks surviving a
// client disconnect (spec.md §3 PTY session "output ring buffer",
// §4.2 "cap: last 1000 chunks or 1 MiB, whichever first"). Adapted from
// vm-agent/internal/pty/ring_buffer.go's overwrite-oldest byte buffer:
// this variant preserves chunk boundaries (needed so reattach replays
// discrete, already-redacted writes rather than a re-merged byte stream)
// and is bounded jointly by chunk count and total bytes.
type RingBuffer struct {
	mu       sync.Mutex
	chunks   []Chunk
	byteCap  int
	chunkCap int
	bytes    int
}

// NewRingBuffer allocates a buffer bounded by chunkCap entries and byteCap
// total bytes. Zero/negative values fall back to spec.md defaults.
func NewRingBuffer(chunkCap, byteCap int) *RingBuffer {
	if chunkCap <= 0 {
		chunkCap = defaultChunkCap
	}
	if byteCap <= 0 {
		byteCap = defaultByteCap
	}
	return &RingBuffer{chunkCap: chunkCap, byteCap: byteCap}
}

// Write appends a chunk, evicting the oldest entries until both caps are
// satisfied.
func (rb *RingBuffer) Write(data []byte, timestampMs int64) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.chunks = append(rb.chunks, Chunk{Data: cp, Timestamp: timestampMs})
	rb.bytes += len(cp)

	for (len(rb.chunks) > rb.chunkCap || rb.bytes > rb.byteCap) && len(rb.chunks) > 0 {
		rb.bytes -= len(rb.chunks[0].Data)
		rb.chunks = rb.chunks[1:]
	}
}

// ReadAll returns a copy of the buffered chunks in chronological order.
func (rb *RingBuffer) ReadAll() []Chunk {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]Chunk, len(rb.chunks))
	copy(out, rb.chunks)
	return out
}

// Len returns the number of chunks currently buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.chunks)
}

// Reset discards all buffered chunks.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.chunks = nil
	rb.bytes = 0
}
