package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestSplitRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		msgLen   int
		maxChunk int
		wantTot  int
	}{
		{"empty message", 0, 20, 1},
		{"below one chunk", 5, 20, 1},
		{"exactly one chunk", 20, 20, 1},
		{"one byte over", 21, 20, 2},
		{"several chunks", 100, 20, 5},
		{"uneven tail", 103, 20, 6},
		{"chunk size one", 7, 1, 7},
		{"max chunk count", 255 * 4, 4, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := make([]byte, tt.msgLen)
			for i := range msg {
				msg[i] = byte(i)
			}

			chunks, err := Split(msg, tt.maxChunk)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}

			if len(chunks) != tt.wantTot {
				t.Errorf("chunk count = %d, want %d", len(chunks), tt.wantTot)
			}

			var joined []byte
			for _, c := range chunks {
				if len(c) > tt.maxChunk {
					t.Errorf("chunk length %d exceeds max %d", len(c), tt.maxChunk)
				}
				joined = append(joined, c...)
			}
			if !bytes.Equal(joined, msg) {
				t.Errorf("concatenated chunks do not reproduce the message")
			}
		})
	}
}

func TestSplitTooLarge(t *testing.T) {
	// One byte past MaxChunks full chunks needs a 256th chunk, which
	// an 8-bit tot cannot declare: tot would wrap to 0 on the wire.
	msg := make([]byte, 255*4+1)
	if _, err := Split(msg, 4); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Split() error = %v, want %v", err, ErrMessageTooLarge)
	}
}

func TestSplitTotAlwaysEncodable(t *testing.T) {
	// Every chunk count Split accepts must survive the uint8 tot
	// field; a wrapped tot of 0 would invalidate every frame of the
	// message at every receiver.
	msg := make([]byte, MaxChunks*4)
	chunks, err := Split(msg, 4)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if tot := uint8(len(chunks)); int(tot) != len(chunks) || tot == 0 {
		t.Errorf("tot encodes as %d for %d chunks", tot, len(chunks))
	}
}

func TestMaxChunkPayload(t *testing.T) {
	if got := MaxChunkPayload(false); got != AdvCapacity-HeaderSize {
		t.Errorf("MaxChunkPayload(false) = %d, want %d", got, AdvCapacity-HeaderSize)
	}
	if got := MaxChunkPayload(true); got != AdvCapacity-HeaderSize-TagSize {
		t.Errorf("MaxChunkPayload(true) = %d, want %d", got, AdvCapacity-HeaderSize-TagSize)
	}
	if MaxChunkPayload(true) < 1 {
		t.Fatal("sealed chunks do not fit the advertisement capacity")
	}
}
