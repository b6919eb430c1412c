package protocol

import "errors"

// MaxChunks is the chunk-count ceiling imposed by the 8-bit tot
// field: tot==0 is invalid on the wire, so 255 is the largest count a
// frame can declare.
const MaxChunks = 255

var ErrMessageTooLarge = errors.New("message needs more than 255 chunks")

// Split slices a message into chunk payloads of at most maxChunk bytes
// each. The slices concatenate back to msg exactly, and their count is
// the frame's tot. An empty message still produces one empty chunk so
// that every message has at least one frame on the air.
//
// Split fails before anything is transmitted when the message cannot
// fit the 8-bit chunk count.
func Split(msg []byte, maxChunk int) ([][]byte, error) {
	if maxChunk < 1 {
		return nil, errors.New("max chunk size must be at least 1")
	}

	tot := (len(msg) + maxChunk - 1) / maxChunk
	if tot == 0 {
		tot = 1
	}
	if tot > MaxChunks {
		return nil, ErrMessageTooLarge
	}

	chunks := make([][]byte, 0, tot)
	for i := 0; i < tot; i++ {
		s := i * maxChunk
		e := s + maxChunk
		if e > len(msg) {
			e = len(msg)
		}
		chunks = append(chunks, msg[s:e])
	}

	return chunks, nil
}
