// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build !linux

package transport

import (
	"context"
	"errors"
	"io"
	"net"
)

func dialRFCOMM(ctx context.Context, mac net.HardwareAddr, channel uint8) (io.ReadWriteCloser, error) {
	return nil, errors.ErrUnsupported
}
