package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrFrameTooShort      = errors.New("frame shorter than fixed header")
	ErrWrongCompanyID     = errors.New("not a chirp frame")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrInvalidFrame       = errors.New("invalid frame")
)

// Frame is the unit exchanged over the air: one chunk of one message
// plus the relay metadata needed to flood it.
type Frame struct {
	Topic   uint8
	TTL     uint8
	MsgID   MsgID
	Seq     uint8
	Tot     uint8
	Payload []byte
}

// Encode encodes the frame to wire bytes
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))

	binary.LittleEndian.PutUint16(buf[0:2], CompanyID)
	buf[2] = Version
	buf[3] = f.Topic
	buf[4] = f.TTL
	copy(buf[5:9], f.MsgID[:])
	buf[9] = f.Seq
	buf[10] = f.Tot
	copy(buf[HeaderSize:], f.Payload)

	return buf
}

// Decode parses wire bytes into a frame. Every error means "not one of
// ours": the caller discards the advertisement and moves on. The
// payload is copied out of buf, never sized beyond the bytes present.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, ErrFrameTooShort
	}

	if binary.LittleEndian.Uint16(buf[0:2]) != CompanyID {
		return nil, ErrWrongCompanyID
	}

	if buf[2] != Version {
		return nil, ErrUnsupportedVersion
	}

	f := &Frame{
		Topic: buf[3],
		TTL:   buf[4],
		Seq:   buf[9],
		Tot:   buf[10],
	}
	copy(f.MsgID[:], buf[5:9])

	if err := f.Validate(); err != nil {
		return nil, err
	}

	f.Payload = make([]byte, len(buf)-HeaderSize)
	copy(f.Payload, buf[HeaderSize:])

	return f, nil
}

// Validate checks the chunk-position invariants: tot is at least one
// and seq addresses a slot below it.
func (f *Frame) Validate() error {
	if f.Tot == 0 {
		return ErrInvalidFrame
	}
	if f.Seq >= f.Tot {
		return ErrInvalidFrame
	}
	return nil
}
