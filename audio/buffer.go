package audio

import "errors"

// ErrBufferLimitExceeded is returned when a chunk would push the buffer past its maximum size
var ErrBufferLimitExceeded = errors.New("audio buffer limit exceeded")

// Buffer accumulates audio chunks in arrival order.
// It is not safe for concurrent use; the Manager serializes access through its registry.
type Buffer struct {
	chunks    [][]byte
	totalSize int
}

// Append adds an audio chunk to the buffer.
// Returns ErrBufferLimitExceeded, leaving the buffer unchanged, if the chunk
// alone or the new total would exceed maxSize.
func (b *Buffer) Append(chunk []byte, maxSize int) error {
	if len(chunk) > maxSize {
		return ErrBufferLimitExceeded
	}
	newSize := b.totalSize + len(chunk)
	if newSize > maxSize {
		return ErrBufferLimitExceeded
	}

	b.chunks = append(b.chunks, chunk)
	b.totalSize = newSize
	return nil
}

// Merge concatenates all chunks in order
func (b *Buffer) Merge() []byte {
	if len(b.chunks) == 0 {
		return nil
	}

	// Pre-allocate result slice for efficiency
	result := make([]byte, 0, b.totalSize)
	for _, chunk := range b.chunks {
		result = append(result, chunk...)
	}
	return result
}

// Since concatenates the chunks at positions >= index
func (b *Buffer) Since(index int) []byte {
	if index < 0 {
		index = 0
	}
	if index >= len(b.chunks) {
		return nil
	}

	size := 0
	for _, chunk := range b.chunks[index:] {
		size += len(chunk)
	}
	result := make([]byte, 0, size)
	for _, chunk := range b.chunks[index:] {
		result = append(result, chunk...)
	}
	return result
}

// Clear empties the buffer
func (b *Buffer) Clear() {
	b.chunks = nil
	b.totalSize = 0
}

// Size returns the current total buffered bytes
func (b *Buffer) Size() int {
	return b.totalSize
}

// ChunkCount returns the number of chunks in the buffer
func (b *Buffer) ChunkCount() int {
	return len(b.chunks)
}
