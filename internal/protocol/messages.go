// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Message types of the cleartext handshake.
var (
	TypeIdent        = code('d', 's', 'm', 's')
	TypePublicID     = code('p', 'u', 'b', 'i')
	TypeFriendlyName = code('f', 'n', 'a', 'm')
	TypeAvatar       = code('a', 'v', 't', 'r')
	TypePublicKey    = code('p', 'u', 'b', 'k')
	TypePair         = code('p', 'a', 'i', 'r')
	TypeStartTLS     = code('s', 't', 'l', 's')
)

// Magic opens both the ident message and the LAN beacon.
const Magic = "Deskemes"

// Version is the protocol version this engine speaks.
const Version uint16 = 1

const minIdentLen = len(Magic) + 2

var (
	ErrBadIdent    = errors.New("protocol: malformed ident message")
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Known reports whether t is a handshake message type.
func Known(t Type) bool {
	switch t {
	case TypeIdent, TypePublicID, TypeFriendlyName, TypeAvatar, TypePublicKey, TypePair, TypeStartTLS:
		return true
	}
	return false
}

// Ident builds the ident frame that must open every handshake.
func Ident() Frame {
	p := make([]byte, minIdentLen)
	copy(p, Magic)
	binary.BigEndian.PutUint16(p[len(Magic):], Version)
	return Frame{Type: TypeIdent, Payload: p}
}

// ParseIdent validates an ident payload and returns the peer's version.
func ParseIdent(payload []byte) (uint16, error) {
	if len(payload) < minIdentLen || !bytes.HasPrefix(payload, []byte(Magic)) {
		return 0, fmt.Errorf("%w (%d bytes)", ErrBadIdent, len(payload))
	}
	return binary.BigEndian.Uint16(payload[len(Magic):]), nil
}

// PublicID builds a pubi frame.
func PublicID(id []byte) Frame { return Frame{Type: TypePublicID, Payload: id} }

// FriendlyName builds a fnam frame.
func FriendlyName(name string) Frame { return Frame{Type: TypeFriendlyName, Payload: []byte(name)} }

// PublicKey builds a pubk frame carrying an SSH wire-format public key.
func PublicKey(wire []byte) Frame { return Frame{Type: TypePublicKey, Payload: wire} }

// PairRequest builds the pair frame.
func PairRequest() Frame { return Frame{Type: TypePair} }

// StartTLS builds the stls frame that ends the cleartext phase.
func StartTLS() Frame { return Frame{Type: TypeStartTLS} }
