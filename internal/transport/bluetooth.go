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

// DefaultRFCOMMChannel is the RFCOMM channel the companion app listens on.
const DefaultRFCOMMChannel = 5

// BluetoothOpener connects to the companion app over RFCOMM.
type BluetoothOpener struct {
	Channel uint8
}

func (o BluetoothOpener) Open(ctx context.Context, c model.DeviceCandidate) (Channel, error) {
	mac, err := net.ParseMAC(c.Address)
	if err != nil || len(mac) != 6 {
		return nil, newError(Unreachable, model.TransportBluetooth, "open", fmt.Errorf("invalid adapter address %q", c.Address))
	}
	ch := o.Channel
	if ch == 0 {
		ch = DefaultRFCOMMChannel
	}
	rw, err := dialRFCOMM(ctx, mac, ch)
	if err != nil {
		return nil, dialError(model.TransportBluetooth, err)
	}
	return newStreamChannel(model.TransportBluetooth, rw), nil
}
