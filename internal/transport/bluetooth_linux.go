// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build linux

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func dialRFCOMM(ctx context.Context, mac net.HardwareAddr, channel uint8) (io.ReadWriteCloser, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	sa := &unix.SockaddrRFCOMM{Channel: channel}
	// bdaddr_t is little endian
	for i := 0; i < 6; i++ {
		sa.Addr[i] = mac[5-i]
	}
	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("connect", err)
	}

	f := os.NewFile(uintptr(fd), "rfcomm:"+mac.String())
	if d, ok := ctx.Deadline(); ok {
		_ = f.SetWriteDeadline(d)
	}
	stop := context.AfterFunc(ctx, func() { _ = f.SetWriteDeadline(time.Unix(1, 0)) })
	defer stop()

	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	var connErr error
	polled := false
	werr := rc.Write(func(fd uintptr) bool {
		if !polled {
			polled = true
			return false
		}
		v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			connErr = err
		} else if v != 0 {
			connErr = unix.Errno(v)
		}
		return true
	})
	if werr != nil {
		_ = f.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, werr
	}
	if connErr != nil {
		_ = f.Close()
		return nil, os.NewSyscallError("connect", connErr)
	}
	_ = f.SetWriteDeadline(time.Time{})
	return f, nil
}
