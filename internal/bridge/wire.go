// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The bridge speaks the ADB smart-socket protocol: each request is a four
// digit hex length followed by the payload, each reply starts with OKAY or
// FAIL, and FAIL is followed by a hex-length-prefixed message.

type malformed struct{ got []byte }

func (m *malformed) Error() string {
	return fmt.Sprintf("malformed response received from bridge server: %q", m.got)
}

type failure struct{ msg string }

func (f *failure) Error() string { return f.msg }

func writeRequest(w io.Writer, payload string) error {
	if len(payload) > 0xffff {
		return fmt.Errorf("bridge request too long (%d bytes)", len(payload))
	}
	_, err := io.WriteString(w, fmt.Sprintf("%04x%s", len(payload), payload))
	return err
}

func readStatus(r io.Reader) error {
	var st [4]byte
	if _, err := io.ReadFull(r, st[:]); err != nil {
		return err
	}
	switch string(st[:]) {
	case "OKAY":
		return nil
	case "FAIL":
		msg, err := readHexString(r)
		if err != nil {
			return err
		}
		return &failure{msg: msg}
	}
	return &malformed{got: append([]byte(nil), st[:]...)}
}

func readHexString(r io.Reader) (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(hdr[:]), 16, 16)
	if err != nil {
		return "", &malformed{got: append([]byte(nil), hdr[:]...)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// DeviceState is the bridge's view of one attached device.
type DeviceState string

const (
	StateOnline       DeviceState = "online"
	StateUnauthorized DeviceState = "unauthorized"
	StateOffline      DeviceState = "offline"
)

// Device is one line of the bridge's device list.
type Device struct {
	Serial string
	State  DeviceState
	// Raw is the state word as reported, e.g. "recovery" or "authorizing".
	Raw string
}

const minSerialLen = 8

// ParseDevices parses the body of a host:devices reply. Lines with serials
// shorter than eight characters are bridge noise and are dropped.
func ParseDevices(body string) []Device {
	var out []Device
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) < minSerialLen {
			continue
		}
		d := Device{Serial: fields[0], Raw: fields[1]}
		switch fields[1] {
		case "device":
			d.State = StateOnline
		case "unauthorized", "authorizing":
			d.State = StateUnauthorized
		default:
			d.State = StateOffline
		}
		out = append(out, d)
	}
	return out
}
