package mesh

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/blechirp/chirp-node/pkg/protocol"
)

func testIdentity(topic uint8, b byte) identity {
	return identity{topic: topic, msgID: protocol.MsgID{b, b, b, b}}
}

func TestReassemblyAnyOrder(t *testing.T) {
	chunks := [][]byte{[]byte("the "), []byte("quick "), []byte("brown "), []byte("fox")}
	want := []byte("the quick brown fox")

	for trial := 0; trial < 10; trial++ {
		r := newReassembler(16, time.Minute, clock.NewMock())
		id := testIdentity(7, byte(trial))

		order := rand.Perm(len(chunks))
		var got []byte
		deliveries := 0
		for _, i := range order {
			msg, err := r.add(id, uint8(i), uint8(len(chunks)), chunks[i])
			if err != nil {
				t.Fatalf("add(seq=%d) error = %v", i, err)
			}
			if msg != nil {
				deliveries++
				got = msg
			}
		}

		if deliveries != 1 {
			t.Fatalf("order %v: %d deliveries, want 1", order, deliveries)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("order %v: reassembled %q, want %q", order, got, want)
		}
		if r.open() != 0 {
			t.Errorf("entry not evicted after completion")
		}
	}
}

func TestReassemblyDuplicatesIdempotent(t *testing.T) {
	r := newReassembler(16, time.Minute, clock.NewMock())
	id := testIdentity(7, 1)

	for i := 0; i < 5; i++ {
		msg, err := r.add(id, 0, 2, []byte("first"))
		if err != nil {
			t.Fatalf("duplicate add error = %v", err)
		}
		if msg != nil {
			t.Fatal("message completed from duplicates of one chunk")
		}
	}

	msg, err := r.add(id, 1, 2, []byte(" second"))
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	if string(msg) != "first second" {
		t.Errorf("reassembled %q", msg)
	}
}

func TestReassemblyInconsistentTotal(t *testing.T) {
	r := newReassembler(16, time.Minute, clock.NewMock())
	id := testIdentity(7, 2)

	if _, err := r.add(id, 0, 3, []byte("a")); err != nil {
		t.Fatalf("add error = %v", err)
	}

	// The first chunk's tot is authoritative; a disagreeing chunk is
	// discarded without touching the entry.
	if _, err := r.add(id, 1, 4, []byte("b")); !errors.Is(err, errInconsistentTotal) {
		t.Errorf("add with wrong tot: error = %v, want %v", err, errInconsistentTotal)
	}

	m1, err := r.add(id, 1, 3, []byte("b"))
	if err != nil || m1 != nil {
		t.Fatalf("valid chunk after inconsistent one: msg=%v err=%v", m1, err)
	}
	m2, err := r.add(id, 2, 3, []byte("c"))
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	if string(m2) != "abc" {
		t.Errorf("reassembled %q, want %q", m2, "abc")
	}
}

func TestReassemblyMissingChunkNeverDelivers(t *testing.T) {
	mock := clock.NewMock()
	r := newReassembler(16, 30*time.Second, mock)
	id := testIdentity(7, 3)

	for i := 0; i < 3; i++ { // tot=4, one chunk withheld
		if msg, err := r.add(id, uint8(i), 4, []byte{byte(i)}); err != nil || msg != nil {
			t.Fatalf("add(%d): msg=%v err=%v", i, msg, err)
		}
	}

	mock.Add(5 * time.Minute)
	if n := r.sweep(); n != 1 {
		t.Errorf("sweep() = %d, want 1", n)
	}
	if r.open() != 0 {
		t.Error("expired entry still open")
	}

	// The identity is gone; a late chunk starts a fresh entry rather
	// than delivering a partial message.
	if msg, _ := r.add(id, 3, 4, []byte{3}); msg != nil {
		t.Error("partial message delivered after expiry")
	}
}

func TestReassemblySweepSparesActive(t *testing.T) {
	mock := clock.NewMock()
	r := newReassembler(16, 30*time.Second, mock)

	stale := testIdentity(7, 4)
	fresh := testIdentity(7, 5)

	r.add(stale, 0, 2, []byte("s"))
	mock.Add(29 * time.Second)
	r.add(fresh, 0, 2, []byte("f"))
	mock.Add(2 * time.Second) // stale idle 31s, fresh idle 2s

	if n := r.sweep(); n != 1 {
		t.Errorf("sweep() = %d, want 1", n)
	}
	if r.open() != 1 {
		t.Errorf("open() = %d, want 1", r.open())
	}
}

func TestReassemblyCapacityEviction(t *testing.T) {
	mock := clock.NewMock()
	r := newReassembler(2, time.Minute, mock)

	a, b, c := testIdentity(7, 10), testIdentity(7, 11), testIdentity(7, 12)

	r.add(a, 0, 2, []byte("a"))
	mock.Add(time.Second)
	r.add(b, 0, 2, []byte("b"))
	mock.Add(time.Second)
	r.add(c, 0, 2, []byte("c")) // evicts a, the oldest by activity

	if r.open() != 2 {
		t.Fatalf("open() = %d, want 2", r.open())
	}

	// b survived and still completes.
	msg, err := r.add(b, 1, 2, []byte("b2"))
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	if string(msg) != "bb2" {
		t.Errorf("reassembled %q, want %q", msg, "bb2")
	}

	// a was evicted: its late chunk opens a fresh entry instead of
	// completing the old one.
	if msg, _ := r.add(a, 1, 2, []byte("a2")); msg != nil {
		t.Error("evicted identity delivered")
	}
}

func TestSeenSetRelayDecision(t *testing.T) {
	mock := clock.NewMock()
	s := newSeenSet(16, mock)
	id := testIdentity(7, 20)

	if !s.observe(id, 3) {
		t.Error("first sighting must relay")
	}
	if s.observe(id, 3) {
		t.Error("same TTL again is a duplicate")
	}
	if s.observe(id, 2) {
		t.Error("lower TTL is a duplicate")
	}
	if !s.observe(id, 5) {
		t.Error("strictly higher TTL arrived via a shorter path; relay once")
	}
	if s.observe(id, 5) {
		t.Error("repeated best TTL must not relay again")
	}
}

func TestSeenSetDelivered(t *testing.T) {
	mock := clock.NewMock()
	s := newSeenSet(16, mock)
	id := testIdentity(7, 21)

	s.observe(id, 3)
	if s.isDelivered(id) {
		t.Error("identity delivered before any completion")
	}

	s.markDelivered(id)
	if !s.isDelivered(id) {
		t.Error("delivered mark not retained")
	}

	// Delivery state must not disturb the relay decision.
	if !s.observe(id, 5) {
		t.Error("fresher TTL no longer relays after delivery")
	}
	if !s.isDelivered(id) {
		t.Error("observe cleared the delivered mark")
	}

	// Unknown identities read as undelivered.
	if s.isDelivered(testIdentity(7, 22)) {
		t.Error("unseen identity reads as delivered")
	}
}

func TestSeenSetEviction(t *testing.T) {
	mock := clock.NewMock()
	s := newSeenSet(3, mock)

	for i := 0; i < 3; i++ {
		s.observe(testIdentity(7, byte(i)), 3)
		mock.Add(time.Second)
	}
	s.observe(testIdentity(7, 99), 3) // evicts the oldest

	if s.len() != 3 {
		t.Fatalf("len() = %d, want 3", s.len())
	}

	// The oldest identity was forgotten, so it reads as new again.
	if !s.observe(testIdentity(7, 0), 3) {
		t.Error("evicted identity still remembered")
	}
}
