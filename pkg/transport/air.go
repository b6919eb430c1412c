package transport

import (
	"context"
	"math/rand"
	"sync"
)

// Air is an in-memory broadcast medium joining any number of ports.
// An advertisement reaches every port except its sender: a radio never
// overhears itself. Optional loss simulates noise.
type Air struct {
	mu    sync.Mutex
	ports []*AirPort
	loss  float64
}

// NewAir creates an empty lossless medium.
func NewAir() *Air {
	return &Air{}
}

// SetLoss drops each delivery independently with probability p.
func (a *Air) SetLoss(p float64) {
	a.mu.Lock()
	a.loss = p
	a.mu.Unlock()
}

// Join attaches a new device to the medium.
func (a *Air) Join() *AirPort {
	p := &AirPort{air: a, obs: make(chan []byte, obsBuffer)}
	a.mu.Lock()
	a.ports = append(a.ports, p)
	a.mu.Unlock()
	return p
}

func (a *Air) broadcast(from *AirPort, frame []byte) {
	a.mu.Lock()
	ports := make([]*AirPort, len(a.ports))
	copy(ports, a.ports)
	loss := a.loss
	a.mu.Unlock()

	for _, p := range ports {
		if p == from {
			continue
		}
		if loss > 0 && rand.Float64() < loss {
			continue
		}
		cp := make([]byte, len(frame))
		copy(cp, frame)
		p.deliver(cp)
	}
}

// AirPort is one device's attachment to an Air medium.
type AirPort struct {
	air    *Air
	mu     sync.Mutex
	obs    chan []byte
	closed bool
}

// Advertise broadcasts the frame to every other port on the medium.
func (p *AirPort) Advertise(_ context.Context, frame []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	p.air.broadcast(p, frame)
	return nil
}

// Observations implements Transport.
func (p *AirPort) Observations() <-chan []byte {
	return p.obs
}

// Close detaches the port; its observation channel is closed.
func (p *AirPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.obs)
	return nil
}

func (p *AirPort) deliver(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.obs <- frame:
	default:
		// port's backlog is full; the frame is lost, as on the air
	}
}
