package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// Protocol constants
const (
	// Manufacturer-data company identifier claimed by chirp frames
	CompanyID uint16 = 0xFFFF

	// Protocol version; must match exactly for a frame to be accepted
	Version uint8 = 1

	// Fixed header size: company_id + version + topic + ttl + msg_id + seq + tot
	HeaderSize = 2 + 1 + 1 + 1 + 4 + 1 + 1

	// Usable manufacturer-data bytes of one legacy advertisement:
	// the fixed header plus a 20-byte payload budget
	AdvCapacity = HeaderSize + 20

	// Poly1305 authentication tag appended to every sealed payload
	TagSize = 16

	// Topic used when no room name is configured
	DefaultTopic uint8 = 7
)

// MsgID identifies one logical message. It is chosen at random once by
// the originator and shared by every chunk of that message. The bytes
// are opaque on the wire; they also seed the per-chunk AEAD nonce, so
// reuse across messages under the same key would repeat a nonce.
type MsgID [4]byte

// GenerateMsgID returns a fresh random message ID.
func GenerateMsgID() (MsgID, error) {
	var id MsgID
	if _, err := rand.Read(id[:]); err != nil {
		return MsgID{}, err
	}
	return id, nil
}

// String returns the hex form used in logs and the history store.
func (id MsgID) String() string {
	return hex.EncodeToString(id[:])
}

// TopicFromRoom maps a room name onto an 8-bit topic by truncating its
// SHA-256 digest. The mapping is stable across implementations, so two
// devices configured with the same room name always share a topic.
func TopicFromRoom(room string) uint8 {
	digest := sha256.Sum256([]byte(room))
	return digest[0]
}

// MaxChunkPayload returns the largest plaintext chunk that still fits
// one advertisement after the header and, when sealing, the auth tag.
func MaxChunkPayload(encrypted bool) int {
	n := AdvCapacity - HeaderSize
	if encrypted {
		n -= TagSize
	}
	return n
}
