package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pproto "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
)

// BridgeProtocolID is the libp2p stream protocol frames travel over.
const BridgeProtocolID = p2pproto.ID("/chirp/bridge/1.0.0")

// BridgeConfig configures an island bridge.
type BridgeConfig struct {
	// ListenAddrs are libp2p listen multiaddrs
	// (e.g. "/ip4/0.0.0.0/tcp/9471")
	ListenAddrs []string

	// Peers are bridge peers to connect to at startup, as full
	// multiaddrs including the /p2p/<id> component
	Peers []string

	// EnableDHT joins a Kademlia DHT for peer routing, so bridges can
	// find each other beyond the explicitly configured peers
	EnableDHT bool

	// BootstrapPeers seed the DHT when EnableDHT is set
	BootstrapPeers []string
}

// Bridge relays frames between distant radio islands over the
// internet. Every frame advertised locally is written to each
// connected bridge peer; frames received from peers surface as
// observations, re-entering the local flood with their TTL intact.
// The bridge exists below the engine: the protocol core still never
// addresses anyone.
type Bridge struct {
	host host.Host
	dht  *dht.IpfsDHT

	mu     sync.Mutex
	obs    chan []byte
	closed bool
}

// NewBridge creates a bridge host, connects its configured peers and
// optionally joins the DHT.
func NewBridge(ctx context.Context, cfg BridgeConfig) (*Bridge, error) {
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	b := &Bridge{
		host: h,
		obs:  make(chan []byte, obsBuffer),
	}

	h.SetStreamHandler(BridgeProtocolID, b.handleStream)

	if cfg.EnableDHT {
		d, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("create DHT: %w", err)
		}
		b.dht = d

		for _, addr := range cfg.BootstrapPeers {
			if err := b.Connect(ctx, addr); err != nil {
				log.Printf("bridge: bootstrap peer %s unreachable: %v", addr, err)
			}
		}
		if err := d.Bootstrap(ctx); err != nil {
			log.Printf("bridge: DHT bootstrap: %v", err)
		}
	}

	for _, addr := range cfg.Peers {
		if err := b.Connect(ctx, addr); err != nil {
			log.Printf("bridge: peer %s unreachable: %v", addr, err)
		}
	}

	return b, nil
}

// Connect dials a bridge peer given its multiaddr.
func (b *Bridge) Connect(ctx context.Context, peerAddr string) error {
	maddr, err := multiaddr.NewMultiaddr(peerAddr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr: %w", err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("parse peer info: %w", err)
	}

	if err := b.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect to peer: %w", err)
	}
	return nil
}

// Addrs returns the bridge's dialable multiaddrs, /p2p/<id> included,
// for operators to hand to the far island.
func (b *Bridge) Addrs() []string {
	var out []string
	for _, a := range b.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, b.host.ID()))
	}
	return out
}

// Advertise implements Transport: the frame is written to every
// connected bridge peer. Unreachable peers are skipped; the local
// radio flood is never held up by the bridge.
func (b *Bridge) Advertise(ctx context.Context, frame []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for _, p := range b.host.Network().Peers() {
		if err := b.sendToPeer(ctx, p, frame); err != nil {
			log.Printf("bridge: send to %s: %v", p, err)
		}
	}
	return nil
}

// Observations implements Transport.
func (b *Bridge) Observations() <-chan []byte {
	return b.obs
}

// Close implements Transport.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.obs)
	b.mu.Unlock()

	if b.dht != nil {
		b.dht.Close()
	}
	return b.host.Close()
}

func (b *Bridge) sendToPeer(ctx context.Context, p peer.ID, frame []byte) error {
	s, err := b.host.NewStream(ctx, p, BridgeProtocolID)
	if err != nil {
		return err
	}
	defer s.Close()

	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(frame)))
	if _, err := s.Write(hdr[:]); err != nil {
		return err
	}
	_, err = s.Write(frame)
	return err
}

// handleStream reads length-prefixed frames from a peer until EOF and
// surfaces them as observations.
func (b *Bridge) handleStream(s network.Stream) {
	defer s.Close()

	for {
		var hdr [2]byte
		if _, err := io.ReadFull(s, hdr[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint16(hdr[:])

		frame := make([]byte, n)
		if _, err := io.ReadFull(s, frame); err != nil {
			return
		}

		if !b.deliver(frame) {
			return
		}
	}
}

func (b *Bridge) deliver(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.obs <- frame:
	default:
		// backlog full; lose the frame like any other transport
	}
	return true
}
