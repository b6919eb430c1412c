package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/blechirp/chirp-node/pkg/protocol"
)

// UDPTransport is a development stand-in for the radio: each frame is
// one broadcast datagram, delivery is lossy, unordered and duplicated
// exactly like advertisements. Datagrams we sent ourselves are
// filtered out, since a radio never hears its own advertisement.
type UDPTransport struct {
	conn  *net.UDPConn
	bcast *net.UDPAddr
	obs   chan []byte

	localIPs  map[string]struct{}
	localPort int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewUDP listens for frames on listen (e.g. ":7718") and broadcasts to
// bcast (e.g. "255.255.255.255:7718").
func NewUDP(listen, bcast string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}

	baddr, err := net.ResolveUDPAddr("udp4", bcast)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	t := &UDPTransport{
		conn:      conn,
		bcast:     baddr,
		obs:       make(chan []byte, obsBuffer),
		localIPs:  localInterfaceIPs(),
		localPort: conn.LocalAddr().(*net.UDPAddr).Port,
		closed:    make(chan struct{}),
	}

	go t.readLoop()

	return t, nil
}

// Advertise implements Transport.
func (t *UDPTransport) Advertise(_ context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	if _, err := t.conn.WriteToUDP(frame, t.bcast); err != nil {
		return fmt.Errorf("broadcast frame: %w", err)
	}
	return nil
}

// Observations implements Transport.
func (t *UDPTransport) Observations() <-chan []byte {
	return t.obs
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
	})
	return nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.obs)

	// One advertisement never exceeds the frame capacity, but foreign
	// datagrams on the port may; oversized reads are discarded by the
	// decoder downstream.
	buf := make([]byte, 4*protocol.AdvCapacity)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return // closed
		}

		if t.isSelf(src) {
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case t.obs <- frame:
		default:
			// backlog full; drop, as the radio would
		}
	}
}

// isSelf reports whether a datagram originated from this process: same
// source port and a local interface address.
func (t *UDPTransport) isSelf(src *net.UDPAddr) bool {
	if src.Port != t.localPort {
		return false
	}
	_, ok := t.localIPs[src.IP.String()]
	return ok
}

func localInterfaceIPs() map[string]struct{} {
	ips := make(map[string]struct{})
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			ips[ipn.IP.String()] = struct{}{}
		}
	}
	return ips
}
