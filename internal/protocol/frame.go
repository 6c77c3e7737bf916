// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package protocol implements the cleartext wire formats spoken with the
// companion app: the type-coded handshake frames and the LAN beacon.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the type code plus the payload length.
const HeaderLen = 6

// MaxPayload is the largest payload a BE16 length can describe.
const MaxPayload = 0xffff

var (
	ErrShortHeader     = errors.New("protocol: short frame header")
	ErrShortPayload    = errors.New("protocol: short frame payload")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// Type is a four character message code stored as a big-endian uint32.
type Type uint32

func code(a, b, c, d byte) Type {
	return Type(a)<<24 | Type(b)<<16 | Type(c)<<8 | Type(d)
}

// ParseType converts a four character string into a Type.
func ParseType(s string) (Type, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("protocol: type code %q must be 4 bytes", s)
	}
	return code(s[0], s[1], s[2], s[3]), nil
}

func (t Type) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(t))
	return string(b[:])
}

// Frame is one message of the handshake protocol.
type Frame struct {
	Type    Type
	Payload []byte
}

// Encode returns the wire form of f.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Type))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(f.Payload)))
	copy(buf[HeaderLen:], f.Payload)
	return buf, nil
}

// WriteFrame writes f to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame. A clean end of stream before any header
// byte is returned as io.EOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderLen]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	f := Frame{Type: Type(binary.BigEndian.Uint32(hdr[0:4]))}
	size := int(binary.BigEndian.Uint16(hdr[4:6]))
	if size == 0 {
		return f, nil
	}
	f.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortPayload
		}
		return Frame{}, err
	}
	return f, nil
}
