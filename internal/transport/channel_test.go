// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/protocol"
)

func pipeChannels(t *testing.T) (Channel, Channel) {
	t.Helper()
	a, b := net.Pipe()
	ca := NewStreamChannel(model.TransportTCP, a)
	cb := NewStreamChannel(model.TransportTCP, b)
	t.Cleanup(func() {
		_ = ca.Close()
		_ = cb.Close()
	})
	return ca, cb
}

func TestStreamChannelSendReceive(t *testing.T) {
	a, b := pipeChannels(t)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- a.Send(ctx, protocol.PublicID([]byte("device-1"))) }()

	f, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if f.Type != protocol.TypePublicID || !bytes.Equal(f.Payload, []byte("device-1")) {
		t.Fatalf("unexpected frame %s %q", f.Type, f.Payload)
	}
}

func TestStreamChannelReceiveTimeout(t *testing.T) {
	_, b := pipeChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestStreamChannelReceiveCancelled(t *testing.T) {
	_, b := pipeChannels(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := b.Receive(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after cancel, got %v", err)
	}
}

func TestStreamChannelPeerClose(t *testing.T) {
	a, b := pipeChannels(t)
	_ = a.Close()
	_, err := b.Receive(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after peer close, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Send(context.Background(), protocol.PairRequest()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on send after close, got %v", err)
	}
}

func TestErrorKeepsRawCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := newError(Unreachable, model.TransportTCP, "open", cause)
	if !errors.Is(err, ErrUnreachable) || !errors.Is(err, cause) {
		t.Fatalf("error chain broken: %v", err)
	}
	if err.Error() != "tcp open: unreachable: connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("unreachable must not match timeout")
	}
}
