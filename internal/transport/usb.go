// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/toeirei/pairmaster/internal/model"
)

// StreamDialer opens a device-side service through the USB bridge.
type StreamDialer interface {
	OpenStream(ctx context.Context, serial, service string) (net.Conn, error)
}

// USBOpener reaches the companion app's listening port through the bridge.
type USBOpener struct {
	Bridge     StreamDialer
	DevicePort int
}

func (o USBOpener) Open(ctx context.Context, c model.DeviceCandidate) (Channel, error) {
	if o.Bridge == nil {
		return nil, newError(Unreachable, model.TransportUSB, "open", fmt.Errorf("no bridge configured"))
	}
	conn, err := o.Bridge.OpenStream(ctx, c.Address, fmt.Sprintf("tcp:%d", o.DevicePort))
	if err != nil {
		return nil, dialError(model.TransportUSB, err)
	}
	return newStreamChannel(model.TransportUSB, conn), nil
}
