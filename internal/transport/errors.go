// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"fmt"

	"github.com/toeirei/pairmaster/internal/model"
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	Unreachable ErrorKind = iota + 1
	Timeout
	IOFailure
	Closed
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Timeout:
		return "timeout"
	case IOFailure:
		return "i/o failure"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Error is a TransportError. Err keeps the raw cause so its text reaches
// the operator unchanged.
type Error struct {
	Kind      ErrorKind
	Transport model.TransportKind
	Op        string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Transport, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnreachable = &Error{Kind: Unreachable}
	ErrTimeout     = &Error{Kind: Timeout}
	ErrIOFailure   = &Error{Kind: IOFailure}
	ErrClosed      = &Error{Kind: Closed}
)

func newError(kind ErrorKind, transport model.TransportKind, op string, err error) *Error {
	return &Error{Kind: kind, Transport: transport, Op: op, Err: err}
}
