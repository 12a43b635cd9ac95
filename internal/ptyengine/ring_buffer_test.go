package ptyengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferReadAllOrder(t *testing.T) {
	rb := NewRingBuffer(10, 1<<20)
	rb.Write([]byte("a"), 1)
	rb.Write([]byte("b"), 2)
	rb.Write([]byte("c"), 3)

	got := rb.ReadAll()
	assert.Len(t, got, 3)
	assert.Equal(t, "a", string(got[0].Data))
	assert.Equal(t, "c", string(got[2].Data))
}

func TestRingBufferEvictsByChunkCount(t *testing.T) {
	rb := NewRingBuffer(2, 1<<20)
	rb.Write([]byte("a"), 1)
	rb.Write([]byte("b"), 2)
	rb.Write([]byte("c"), 3)

	got := rb.ReadAll()
	assert.Len(t, got, 2)
	assert.Equal(t, "b", string(got[0].Data))
	assert.Equal(t, "c", string(got[1].Data))
}

func TestRingBufferEvictsByByteCap(t *testing.T) {
	rb := NewRingBuffer(100, 5)
	rb.Write([]byte("abc"), 1)
	rb.Write([]byte("de"), 2)
	rb.Write([]byte("f"), 3)

	got := rb.ReadAll()
	var total int
	for _, c := range got {
		total += len(c.Data)
	}
	assert.LessOrEqual(t, total, 5)
	assert.Equal(t, "f", string(got[len(got)-1].Data))
}

func TestRingBufferResetClears(t *testing.T) {
	rb := NewRingBuffer(10, 1<<20)
	rb.Write([]byte("a"), 1)
	rb.Reset()
	assert.Equal(t, 0, rb.Len())
	assert.Empty(t, rb.ReadAll())
}

func TestRingBufferIgnoresEmptyWrite(t *testing.T) {
	rb := NewRingBuffer(10, 1<<20)
	rb.Write(nil, 1)
	assert.Equal(t, 0, rb.Len())
}
