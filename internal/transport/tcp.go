// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/toeirei/pairmaster/internal/model"
)

// TCPOpener dials LAN candidates at their advertised host:port.
type TCPOpener struct {
	DialTimeout time.Duration
}

func (o TCPOpener) Open(ctx context.Context, c model.DeviceCandidate) (Channel, error) {
	d := net.Dialer{Timeout: o.DialTimeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, dialError(model.TransportTCP, err)
	}
	return newStreamChannel(model.TransportTCP, conn), nil
}

func dialError(kind model.TransportKind, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return newError(Timeout, kind, "open", err)
	}
	return newError(Unreachable, kind, "open", err)
}
