package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/blechirp/chirp-node/pkg/protocol"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.db"), time.Hour)
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryRecordAndRecent(t *testing.T) {
	h := newTestHistory(t)

	bodies := []string{"first", "second", "third"}
	for i, b := range bodies {
		id := protocol.MsgID{byte(i), 0, 0, 0}
		if err := h.Record(7, id, b); err != nil {
			t.Fatalf("Record(%q) error = %v", b, err)
		}
	}
	if err := h.Record(9, protocol.MsgID{9, 9, 9, 9}, "other topic"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	msgs, err := h.Recent(7, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Recent() returned %d messages, want 3", len(msgs))
	}

	// Newest first.
	if msgs[0].Body != "third" || msgs[2].Body != "first" {
		t.Errorf("unexpected order: %q ... %q", msgs[0].Body, msgs[2].Body)
	}
	if msgs[0].Topic != 7 {
		t.Errorf("Topic = %d, want 7", msgs[0].Topic)
	}
	if msgs[2].MsgID != (protocol.MsgID{0, 0, 0, 0}).String() {
		t.Errorf("MsgID = %q", msgs[2].MsgID)
	}
}

func TestHistoryLimit(t *testing.T) {
	h := newTestHistory(t)

	for i := 0; i < 10; i++ {
		if err := h.Record(7, protocol.MsgID{byte(i)}, "m"); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	msgs, err := h.Recent(7, 4)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("Recent() returned %d messages, want 4", len(msgs))
	}

	n, err := h.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 10 {
		t.Errorf("Count() = %d, want 10", n)
	}
}

func TestHistoryEmptyTopic(t *testing.T) {
	h := newTestHistory(t)

	msgs, err := h.Recent(42, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Recent() on empty topic returned %d messages", len(msgs))
	}
}
