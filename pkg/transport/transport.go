// Package transport carries encoded chirp frames on and off the air.
//
// The relay engine only ever broadcasts and overhears: a Transport
// never connects, scans, or addresses anyone. Implementations are a
// real broadcast medium stand-in (UDP datagrams), an in-memory medium
// for tests and simulation, and a libp2p bridge that joins distant
// radio islands over the internet.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport closed")

// Transport is the abstract radio capability: fire-and-forget
// broadcast of one frame, and a passive stream of observed frames.
type Transport interface {
	// Advertise broadcasts one encoded frame for a bounded duration.
	Advertise(ctx context.Context, frame []byte) error

	// Observations delivers every overheard advertisement. The channel
	// closes when the transport does. Slow consumers lose frames, as
	// on a real radio.
	Observations() <-chan []byte

	Close() error
}

// obsBuffer is the per-transport observation backlog; beyond it frames
// are dropped, as they would be off the air.
const obsBuffer = 64
