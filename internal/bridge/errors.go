// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"fmt"
)

// Kind classifies bridge failures so callers can show distinct remedies.
type Kind int

const (
	// StartFailed: the bridge server could not be started or reached.
	StartFailed Kind = iota + 1
	// Crashed: the server exited while a request was outstanding.
	Crashed
	// Frozen: the server accepted a request but never answered in time.
	Frozen
	// MalformedResponse: the reply violated the bridge wire framing.
	MalformedResponse
	// Rejected: the server answered FAIL, e.g. "device offline".
	Rejected
	// Disconnected: the connection dropped while the server kept running.
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case StartFailed:
		return "failed to start"
	case Crashed:
		return "crashed"
	case Frozen:
		return "seems to have frozen"
	case MalformedResponse:
		return "malformed response"
	case Rejected:
		return "request rejected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown failure"
}

// Error is a BridgeError. Detail carries the raw text the bridge produced,
// if any, for operator diagnostics.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("bridge %s: %s", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrStartFailed       = &Error{Kind: StartFailed}
	ErrCrashed           = &Error{Kind: Crashed}
	ErrFrozen            = &Error{Kind: Frozen}
	ErrMalformedResponse = &Error{Kind: MalformedResponse}
	ErrRejected          = &Error{Kind: Rejected}
	ErrDisconnected      = &Error{Kind: Disconnected}
)
