package transport

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame observed")
		return nil
	}
}

func TestAirBroadcastReachesOthersNotSender(t *testing.T) {
	air := NewAir()
	a := air.Join()
	b := air.Join()
	c := air.Join()

	if err := a.Advertise(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}

	for _, port := range []*AirPort{b, c} {
		if got := recv(t, port.Observations()); !bytes.Equal(got, []byte("frame")) {
			t.Errorf("observed %q, want %q", got, "frame")
		}
	}

	select {
	case frame := <-a.Observations():
		t.Errorf("sender overheard its own advertisement: %q", frame)
	default:
	}
}

func TestAirDeliveryIsCopied(t *testing.T) {
	air := NewAir()
	a := air.Join()
	b := air.Join()

	frame := []byte("mutable")
	if err := a.Advertise(context.Background(), frame); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	frame[0] = 'X'

	if got := recv(t, b.Observations()); !bytes.Equal(got, []byte("mutable")) {
		t.Errorf("observed %q, delivery aliases the sender's buffer", got)
	}
}

func TestAirClosedPort(t *testing.T) {
	air := NewAir()
	a := air.Join()
	b := air.Join()

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-b.Observations(); ok {
		t.Error("observation channel open after Close")
	}

	// Broadcasting past a closed port must not panic or block.
	if err := a.Advertise(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}

	if err := b.Advertise(context.Background(), []byte("frame")); err != ErrClosed {
		t.Errorf("Advertise() on closed port: error = %v, want %v", err, ErrClosed)
	}
}

func TestMultiFanOutFanIn(t *testing.T) {
	near := NewAir()
	far := NewAir()

	m := NewMulti(near.Join(), far.Join())
	defer m.Close()

	nearPeer := near.Join()
	farPeer := far.Join()

	// One Advertise reaches both media.
	if err := m.Advertise(context.Background(), []byte("out")); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	if got := recv(t, nearPeer.Observations()); !bytes.Equal(got, []byte("out")) {
		t.Errorf("near medium observed %q", got)
	}
	if got := recv(t, farPeer.Observations()); !bytes.Equal(got, []byte("out")) {
		t.Errorf("far medium observed %q", got)
	}

	// Observations from either medium merge into one stream.
	if err := nearPeer.Advertise(context.Background(), []byte("from near")); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	if got := recv(t, m.Observations()); !bytes.Equal(got, []byte("from near")) {
		t.Errorf("merged stream observed %q", got)
	}

	if err := farPeer.Advertise(context.Background(), []byte("from far")); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	if got := recv(t, m.Observations()); !bytes.Equal(got, []byte("from far")) {
		t.Errorf("merged stream observed %q", got)
	}
}

func TestMultiCloseClosesMembers(t *testing.T) {
	air := NewAir()
	port := air.Join()
	m := NewMulti(port)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := port.Advertise(context.Background(), []byte("frame")); err != ErrClosed {
		t.Errorf("member still open after Multi.Close: error = %v", err)
	}
	if _, ok := <-m.Observations(); ok {
		t.Error("merged observation channel open after Close")
	}
	if err := m.Advertise(context.Background(), []byte("frame")); err != ErrClosed {
		t.Errorf("Advertise() after Close: error = %v, want %v", err, ErrClosed)
	}
}
