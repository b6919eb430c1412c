package transport

import (
	"context"
	"sync"
)

// Multi fans one logical transport out over several real ones, so a
// node can sit on the local radio and an internet bridge at once.
// Advertisements go to every member; observations from all members
// merge into one stream.
type Multi struct {
	members []Transport

	mu     sync.Mutex
	obs    chan []byte
	closed bool
	wg     sync.WaitGroup
}

// NewMulti combines the given transports. It takes ownership: closing
// the Multi closes every member.
func NewMulti(members ...Transport) *Multi {
	m := &Multi{
		members: members,
		obs:     make(chan []byte, obsBuffer),
	}

	for _, t := range members {
		m.wg.Add(1)
		go m.forward(t)
	}

	return m
}

// Advertise implements Transport. All members are attempted; the first
// failure is reported after the rest have still been tried.
func (m *Multi) Advertise(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var firstErr error
	for _, t := range m.members {
		if err := t.Advertise(ctx, frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Observations implements Transport.
func (m *Multi) Observations() <-chan []byte {
	return m.obs
}

// Close implements Transport.
func (m *Multi) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	var firstErr error
	for _, t := range m.members {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.wg.Wait()
	close(m.obs)
	return firstErr
}

func (m *Multi) forward(t Transport) {
	defer m.wg.Done()
	for frame := range t.Observations() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		select {
		case m.obs <- frame:
		default:
		}
		m.mu.Unlock()
	}
}
