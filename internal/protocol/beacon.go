// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Default UDP ports for beacons; the second is tried when the first is taken.
const (
	BeaconPort          = 24816
	BeaconAlternatePort = 4816
)

var ErrBadBeacon = errors.New("protocol: malformed beacon")

// Beacon is the UDP advertisement exchanged on the local network.
type Beacon struct {
	Version     uint16
	PublicID    []byte
	TCPPort     uint16
	IsDiscovery bool
}

// MarshalBinary encodes the beacon.
func (b Beacon) MarshalBinary() ([]byte, error) {
	if len(b.PublicID) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	var buf bytes.Buffer
	buf.WriteString(Magic)
	_ = binary.Write(&buf, binary.BigEndian, b.Version)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(b.PublicID)))
	buf.Write(b.PublicID)
	_ = binary.Write(&buf, binary.BigEndian, b.TCPPort)
	if b.IsDiscovery {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// ParseBeacon decodes a datagram. Trailing bytes are ignored so that newer
// peers may append fields.
func ParseBeacon(data []byte) (Beacon, error) {
	var b Beacon
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return b, ErrBadBeacon
	}
	rest := data[len(Magic):]
	if len(rest) < 4 {
		return b, ErrBadBeacon
	}
	b.Version = binary.BigEndian.Uint16(rest[0:2])
	idLen := int(binary.BigEndian.Uint16(rest[2:4]))
	rest = rest[4:]
	if idLen == 0 || len(rest) < idLen+3 {
		return b, ErrBadBeacon
	}
	b.PublicID = append([]byte(nil), rest[:idLen]...)
	rest = rest[idLen:]
	b.TCPPort = binary.BigEndian.Uint16(rest[0:2])
	b.IsDiscovery = rest[2] != 0
	return b, nil
}
