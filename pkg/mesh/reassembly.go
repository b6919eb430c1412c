package mesh

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var errInconsistentTotal = errors.New("chunk disagrees with established total")

// pending is one partially reassembled message. The first chunk seen
// for an identity fixes tot; its slot array then fills in any order.
type pending struct {
	slots        [][]byte
	filled       int
	lastActivity time.Time
}

// reassembler buffers inbound chunks per message identity until the
// message completes or goes quiet for too long. Partial messages are
// never delivered.
type reassembler struct {
	mu      sync.Mutex
	clk     clock.Clock
	timeout time.Duration
	cap     int
	table   map[identity]*pending
}

func newReassembler(capacity int, timeout time.Duration, clk clock.Clock) *reassembler {
	return &reassembler{
		clk:     clk,
		timeout: timeout,
		cap:     capacity,
		table:   make(map[identity]*pending),
	}
}

// add stores one decrypted chunk. On the chunk that completes the
// message it returns the concatenated bytes and evicts the entry.
// Duplicate seqs are no-ops; a tot that contradicts the entry's
// established total discards just that chunk.
func (r *reassembler) add(id identity, seq, tot uint8, payload []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payload == nil {
		payload = []byte{} // nil marks an empty slot; an empty chunk must still fill it
	}

	now := r.clk.Now()

	p, ok := r.table[id]
	if !ok {
		if len(r.table) >= r.cap {
			r.evictOldest()
		}
		p = &pending{slots: make([][]byte, tot)}
		r.table[id] = p
	} else if int(tot) != len(p.slots) {
		return nil, errInconsistentTotal
	}

	p.lastActivity = now

	if p.slots[seq] != nil {
		return nil, nil // duplicate chunk, idempotent
	}
	p.slots[seq] = payload
	p.filled++

	if p.filled < len(p.slots) {
		return nil, nil
	}

	delete(r.table, id)
	var msg []byte
	for _, s := range p.slots {
		msg = append(msg, s...)
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, nil
}

// sweep evicts every entry with no chunk arrival inside the inactivity
// window and returns how many were dropped.
func (r *reassembler) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clk.Now().Add(-r.timeout)
	n := 0
	for id, p := range r.table {
		if p.lastActivity.Before(cutoff) {
			delete(r.table, id)
			n++
		}
	}
	return n
}

func (r *reassembler) open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

// evictOldest drops the entry idle the longest to admit a new
// identity; guards memory against floods of distinct msg_ids.
// Callers hold r.mu.
func (r *reassembler) evictOldest() {
	var oldest identity
	var oldestAt time.Time
	first := true
	for id, p := range r.table {
		if first || p.lastActivity.Before(oldestAt) {
			oldest, oldestAt = id, p.lastActivity
			first = false
		}
	}
	if !first {
		delete(r.table, oldest)
	}
}
