// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package transport provides the byte-frame channel used to talk to one
// candidate device, with one implementation per transport kind.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/protocol"
)

// Channel exchanges frames with one device. Send and Receive may be called
// from different goroutines; Close unblocks both.
type Channel interface {
	Send(ctx context.Context, f protocol.Frame) error
	Receive(ctx context.Context) (protocol.Frame, error)
	Close() error
}

// Opener opens a Channel to a candidate.
type Opener interface {
	Open(ctx context.Context, c model.DeviceCandidate) (Channel, error)
}

// Openers dispatches to the opener registered for the candidate's transport.
type Openers map[model.TransportKind]Opener

func (o Openers) Open(ctx context.Context, c model.DeviceCandidate) (Channel, error) {
	op, ok := o[c.Transport]
	if !ok {
		return nil, newError(Unreachable, c.Transport, "open", fmt.Errorf("no opener for transport %q", c.Transport))
	}
	return op.Open(ctx, c)
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// streamChannel frames a byte stream. It backs all three transports: a TCP
// socket, a bridge-forwarded socket and an RFCOMM socket file.
type streamChannel struct {
	kind model.TransportKind
	rw   io.ReadWriteCloser
	dl   deadliner

	readMu    sync.Mutex
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newStreamChannel(kind model.TransportKind, rw io.ReadWriteCloser) *streamChannel {
	c := &streamChannel{kind: kind, rw: rw, closed: make(chan struct{})}
	if dl, ok := rw.(deadliner); ok {
		c.dl = dl
	}
	return c
}

// NewStreamChannel wraps an established stream. It is exported for callers
// that obtain the stream themselves, such as tests using net.Pipe.
func NewStreamChannel(kind model.TransportKind, rw io.ReadWriteCloser) Channel {
	return newStreamChannel(kind, rw)
}

func (c *streamChannel) Send(ctx context.Context, f protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return newError(Closed, c.kind, "send", nil)
	}
	stop := c.watch(ctx, func(t time.Time) error { return c.dl.SetWriteDeadline(t) })
	err := protocol.WriteFrame(c.rw, f)
	stop()
	if err != nil {
		return c.classify(ctx, "send", err)
	}
	return nil
}

func (c *streamChannel) Receive(ctx context.Context) (protocol.Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.isClosed() {
		return protocol.Frame{}, newError(Closed, c.kind, "receive", nil)
	}
	stop := c.watch(ctx, func(t time.Time) error { return c.dl.SetReadDeadline(t) })
	f, err := protocol.ReadFrame(c.rw)
	stop()
	if err != nil {
		return protocol.Frame{}, c.classify(ctx, "receive", err)
	}
	return f, nil
}

func (c *streamChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rw.Close()
	})
	return err
}

func (c *streamChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// watch makes a blocking read or write honour ctx. Streams with deadlines
// get an expired deadline; streams without them are closed.
func (c *streamChannel) watch(ctx context.Context, set func(time.Time) error) func() {
	if c.dl != nil {
		if d, ok := ctx.Deadline(); ok {
			_ = set(d)
		} else {
			_ = set(time.Time{})
		}
	}
	stop := context.AfterFunc(ctx, func() {
		if c.dl != nil {
			_ = set(time.Unix(1, 0))
			return
		}
		_ = c.Close()
	})
	return func() { stop() }
}

func (c *streamChannel) classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(Timeout, c.kind, op, ctx.Err())
	case ctx.Err() != nil:
		return newError(Closed, c.kind, op, ctx.Err())
	case c.isClosed(), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return newError(Closed, c.kind, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(Timeout, c.kind, op, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return newError(Timeout, c.kind, op, err)
	}
	return newError(IOFailure, c.kind, op, err)
}
