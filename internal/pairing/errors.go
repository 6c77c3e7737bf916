// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package pairing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a session stopped.
type ErrorKind int

const (
	PeerKeyTimeout ErrorKind = iota + 1
	KeyChangedSinceLastPairing
	StoreFailure
	AlreadyPairedInSession
	ProtocolViolation
	TransportFailure
	Blacklisted
)

func (k ErrorKind) String() string {
	switch k {
	case PeerKeyTimeout:
		return "peer key timeout"
	case KeyChangedSinceLastPairing:
		return "key changed since last pairing"
	case StoreFailure:
		return "store failure"
	case AlreadyPairedInSession:
		return "already paired in this session"
	case ProtocolViolation:
		return "protocol violation"
	case TransportFailure:
		return "transport failure"
	case Blacklisted:
		return "device is blacklisted"
	default:
		return "unknown"
	}
}

// Error ends a pairing attempt. Err keeps the underlying cause so the
// operator sees the raw transport or storage message.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "pairing: " + e.Kind.String()
	}
	return fmt.Sprintf("pairing: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrPeerKeyTimeout             = &Error{Kind: PeerKeyTimeout}
	ErrKeyChangedSinceLastPairing = &Error{Kind: KeyChangedSinceLastPairing}
	ErrStoreFailure               = &Error{Kind: StoreFailure}
	ErrAlreadyPairedInSession     = &Error{Kind: AlreadyPairedInSession}
	ErrProtocol                   = &Error{Kind: ProtocolViolation}
	ErrTransport                  = &Error{Kind: TransportFailure}
	ErrBlacklisted                = &Error{Kind: Blacklisted}
)

// Command surface errors.
var (
	ErrUnknownSession = errors.New("pairing: unknown session")
	ErrSessionActive  = errors.New("pairing: a session is already active for this candidate")
	ErrInvalidState   = errors.New("pairing: command not valid in the current state")
	ErrClosed         = errors.New("pairing: manager closed")
)

func failWith(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
