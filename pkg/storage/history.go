// Package storage persists delivered messages. It is a consumer of
// the relay engine's delivery callback and owns no protocol state.
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/blechirp/chirp-node/pkg/protocol"
)

// StoredMessage is one delivered message as read back from the store.
type StoredMessage struct {
	ID         int64
	Topic      uint8
	MsgID      string // hex-encoded
	Body       string
	ReceivedAt int64 // unix seconds
}

// History is a sqlite-backed log of delivered messages with a
// retention window.
type History struct {
	db        *sql.DB
	retention time.Duration
	stop      chan struct{}
}

// NewHistory opens (or creates) the history database.
// retention: how long delivered messages are kept (default: 7 days).
func NewHistory(dbPath string, retention time.Duration) (*History, error) {
	if retention == 0 {
		retention = 7 * 24 * time.Hour
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %v", err)
	}

	h := &History{
		db:        db,
		retention: retention,
		stop:      make(chan struct{}),
	}

	if err := h.initSchema(); err != nil {
		return nil, err
	}

	go h.cleanupExpired()

	return h, nil
}

// initSchema creates the database schema
func (h *History) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic INTEGER NOT NULL,
		msg_id TEXT NOT NULL,
		body TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Index for topic-scoped reads
	CREATE INDEX IF NOT EXISTS idx_topic ON messages(topic, received_at);

	-- Index for retention cleanup
	CREATE INDEX IF NOT EXISTS idx_received ON messages(received_at);
	`

	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// Record stores one delivered message.
func (h *History) Record(topic uint8, msgID protocol.MsgID, body string) error {
	query := `
		INSERT INTO messages (topic, msg_id, body, received_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := h.db.Exec(query, topic, msgID.String(), body, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record message: %v", err)
	}
	return nil
}

// Recent returns up to limit messages on a topic, newest first.
func (h *History) Recent(topic uint8, limit int) ([]*StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, topic, msg_id, body, received_at
		FROM messages
		WHERE topic = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`

	rows, err := h.db.Query(query, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %v", err)
	}
	defer rows.Close()

	var msgs []*StoredMessage
	for rows.Next() {
		m := &StoredMessage{}
		if err := rows.Scan(&m.ID, &m.Topic, &m.MsgID, &m.Body, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %v", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// Count returns the number of stored messages across all topics.
func (h *History) Count() (int64, error) {
	var n int64
	err := h.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n)
	return n, err
}

// Close stops the cleanup goroutine and closes the database.
func (h *History) Close() error {
	close(h.stop)
	return h.db.Close()
}

// cleanupExpired periodically deletes messages past retention.
func (h *History) cleanupExpired() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-h.retention).Unix()
			res, err := h.db.Exec("DELETE FROM messages WHERE received_at < ?", cutoff)
			if err != nil {
				log.Printf("history cleanup failed: %v", err)
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				log.Printf("history: expired %d messages", n)
			}
		}
	}
}
