// Package crypto provides the passphrase-derived key and the per-chunk
// authenticated encryption used on chirp frame payloads.
package crypto

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/blechirp/chirp-node/pkg/protocol"
)

const (
	// ChaCha20-Poly1305 key size
	KeySize = 32

	// Nonce layout: msg_id (4) | seq (1) | zero padding to 12
	NonceSize = chacha20poly1305.NonceSize
)

var ErrAuthFailed = errors.New("payload authentication failed")

// Key is the symmetric session key shared by everyone holding the same
// passphrase. It is derived once at session start and never rotated.
type Key [KeySize]byte

// DeriveKey hashes the UTF-8 passphrase into a fixed key. The
// derivation is deliberately a bare SHA-256: identical passphrases must
// yield identical keys on every implementation, with no handshake to
// negotiate parameters. The passphrase is a shared room secret, not a
// stored credential, so there is no server-side hash to harden.
func DeriveKey(passphrase string) Key {
	return Key(sha256.Sum256([]byte(passphrase)))
}

// nonce builds the deterministic per-chunk nonce. Uniqueness holds as
// long as (msg_id, seq) never repeats under one key, which the random
// per-message msg_id upholds.
func nonce(msgID protocol.MsgID, seq uint8) []byte {
	var n [NonceSize]byte
	copy(n[0:4], msgID[:])
	n[4] = seq
	return n[:]
}

// Seal encrypts one chunk payload, appending the 16-byte Poly1305 tag.
func Seal(key Key, msgID protocol.MsgID, seq uint8, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce(msgID, seq), plaintext, nil), nil
}

// Open authenticates and decrypts one sealed chunk. Any tampering,
// truncation, or wrong key yields ErrAuthFailed; the caller discards
// just that chunk, leaving the rest of the message untouched.
func Open(key Key, msgID protocol.MsgID, seq uint8, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce(msgID, seq), sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
