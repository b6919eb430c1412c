package mesh

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/blechirp/chirp-node/pkg/protocol"
)

// identity keys both the seen-set and the reassembly table: a message
// is (topic, msg_id), nothing more.
type identity struct {
	topic uint8
	msgID protocol.MsgID
}

type seenEntry struct {
	// Highest TTL this identity has been observed at. A later copy
	// arriving with a strictly higher TTL came via a shorter path and
	// is worth relaying once more; anything else is a duplicate.
	bestTTL uint8

	// Set once the message has completed reassembly and been handed
	// to the consumer. Late copies of its chunks still relay but must
	// not re-open a reassembly entry and deliver a second time.
	delivered bool

	lastSeen time.Time
}

// seenSet tracks which messages have already been propagated. It is
// bounded: past capacity the oldest entry makes room for the new one.
type seenSet struct {
	mu      sync.Mutex
	clk     clock.Clock
	cap     int
	entries map[identity]*seenEntry
}

func newSeenSet(capacity int, clk clock.Clock) *seenSet {
	return &seenSet{
		clk:     clk,
		cap:     capacity,
		entries: make(map[identity]*seenEntry, capacity),
	}
}

// observe records one sighting of id at ttl and reports whether a
// relay copy should go out: true for an unseen identity, or for a
// strictly fresher TTL than any previously observed. The chunk itself
// always continues to the reassembler regardless.
func (s *seenSet) observe(id identity, ttl uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	if e, ok := s.entries[id]; ok {
		e.lastSeen = now
		if ttl > e.bestTTL {
			e.bestTTL = ttl
			return true
		}
		return false
	}

	if len(s.entries) >= s.cap {
		s.evictOldest()
	}
	s.entries[id] = &seenEntry{bestTTL: ttl, lastSeen: now}
	return true
}

// record marks an identity as seen without asking for a relay, used
// for our own outbound messages so an echoed copy is never re-flooded.
func (s *seenSet) record(id identity, ttl uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.cap {
		if _, ok := s.entries[id]; !ok {
			s.evictOldest()
		}
	}
	s.entries[id] = &seenEntry{bestTTL: ttl, lastSeen: s.clk.Now()}
}

// markDelivered flags an identity whose message has been delivered.
func (s *seenSet) markDelivered(id identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		e.delivered = true
		e.lastSeen = s.clk.Now()
		return
	}
	if len(s.entries) >= s.cap {
		s.evictOldest()
	}
	s.entries[id] = &seenEntry{delivered: true, lastSeen: s.clk.Now()}
}

// isDelivered reports whether an identity's message has already been
// handed to the consumer. Forgotten (evicted) identities read as
// undelivered, like any other seen-set state.
func (s *seenSet) isDelivered(id identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	return ok && e.delivered
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOldest removes the least recently seen entry. Callers hold s.mu.
func (s *seenSet) evictOldest() {
	var oldest identity
	var oldestAt time.Time
	first := true
	for id, e := range s.entries {
		if first || e.lastSeen.Before(oldestAt) {
			oldest, oldestAt = id, e.lastSeen
			first = false
		}
	}
	if !first {
		delete(s.entries, oldest)
	}
}
