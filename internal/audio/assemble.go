// Package audio collects streamed recording chunks and guesses their
// container format. It never decodes audio.
package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrAudioTooSmall rejects buffers that are too short to be worth a transcription call.
	ErrAudioTooSmall = errors.New("audio too small")
	// ErrAudioTooLarge rejects buffers above the upload limit.
	ErrAudioTooLarge = errors.New("audio too large")
)

// Assembler accumulates the binary chunks of one recording in arrival order.
// It is not safe for concurrent use; the owning session serialises access.
type Assembler struct {
	chunks [][]byte
	total  int
}

// Append stores an owned copy of chunk and returns the running chunk count.
func (a *Assembler) Append(chunk []byte) int {
	owned := make([]byte, len(chunk))
	copy(owned, chunk)
	a.chunks = append(a.chunks, owned)
	a.total += len(owned)
	return len(a.chunks)
}

// Len reports the number of buffered chunks.
func (a *Assembler) Len() int { return len(a.chunks) }

// Size reports the total number of buffered bytes.
func (a *Assembler) Size() int { return a.total }

// Reset drops every buffered chunk.
func (a *Assembler) Reset() {
	a.chunks = nil
	a.total = 0
}

// Drain concatenates the buffered chunks and resets the assembler.
func (a *Assembler) Drain() []byte {
	out := Assemble(a.chunks)
	a.Reset()
	return out
}

// Assemble concatenates chunks in order. The result length is the sum of the
// chunk lengths and the result never aliases any chunk.
func Assemble(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// CheckSize validates a buffer length against [minBytes, maxBytes].
// A non-positive maxBytes disables the upper bound.
func CheckSize(n, minBytes, maxBytes int) error {
	if n < minBytes {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrAudioTooSmall, n, minBytes)
	}
	if maxBytes > 0 && n > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrAudioTooLarge, n, maxBytes)
	}
	return nil
}
