package kfmt

import "io"

// ringBufferSize defines size of the ring buffer that buffers early Printf
// output. Its default size is selected so it can buffer the contents of a
// standard 80*25 text-mode console. The ring buffer size must always be a
// power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the last ringBufferSize bytes written to it. Once full,
// each write evicts the oldest buffered bytes.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// start is the offset of the oldest unread byte and count the number
	// of unread bytes.
	start, count int
}

// Write writes len(p) bytes from p to the ringBuffer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(ringBufferSize-1)] = b
		if rb.count == ringBufferSize {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
		} else {
			rb.count++
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once all buffered
// data has been consumed.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && rb.count > 0 {
		p[n] = rb.buffer[rb.start]
		rb.start = (rb.start + 1) & (ringBufferSize - 1)
		rb.count--
		n++
	}

	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int {
	return rb.count
}

func (rb *ringBuffer) reset() {
	rb.start, rb.count = 0, 0
}
