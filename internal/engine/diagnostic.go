// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package engine

import (
	"errors"
	"time"

	"github.com/toeirei/pairmaster/internal/bootstrap"
	"github.com/toeirei/pairmaster/internal/bridge"
	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/pairing"
	"github.com/toeirei/pairmaster/internal/transport"
)

// Diagnostic reports a failure the operator has to act on. Detail is the
// raw error text, Remedy a catalog hint chosen from the error kind.
type Diagnostic struct {
	Component string
	Err       error
	Detail    string
	Remedy    string
	At        time.Time
}

// Remedy picks the operator hint for err.
func Remedy(err error) string {
	var ie *bootstrap.InstallError
	if errors.As(err, &ie) {
		if ie.Kind == bootstrap.PolicyBlocked {
			return i18n.T("remedy.install.policy_blocked", map[string]any{"URL": ie.Fallback})
		}
		return i18n.T("remedy.install.push_failed")
	}

	switch {
	case errors.Is(err, pairing.ErrPeerKeyTimeout):
		return i18n.T("remedy.pairing.peer_key_timeout")
	case errors.Is(err, pairing.ErrKeyChangedSinceLastPairing):
		return i18n.T("remedy.pairing.key_changed")
	case errors.Is(err, pairing.ErrStoreFailure):
		return i18n.T("remedy.pairing.store_failure")
	case errors.Is(err, pairing.ErrAlreadyPairedInSession):
		return i18n.T("remedy.pairing.already_paired")
	case errors.Is(err, pairing.ErrBlacklisted):
		return i18n.T("remedy.pairing.blacklisted")
	case errors.Is(err, pairing.ErrProtocol):
		return i18n.T("remedy.pairing.protocol")
	}

	switch {
	case errors.Is(err, bridge.ErrStartFailed):
		return i18n.T("remedy.bridge.start_failed")
	case errors.Is(err, bridge.ErrCrashed):
		return i18n.T("remedy.bridge.crashed")
	case errors.Is(err, bridge.ErrFrozen):
		return i18n.T("remedy.bridge.frozen")
	case errors.Is(err, bridge.ErrMalformedResponse):
		return i18n.T("remedy.bridge.malformed")
	case errors.Is(err, bridge.ErrRejected):
		return i18n.T("remedy.bridge.rejected")
	case errors.Is(err, bridge.ErrDisconnected):
		return i18n.T("remedy.bridge.disconnected")
	}

	switch {
	case errors.Is(err, transport.ErrUnreachable):
		return i18n.T("remedy.transport.unreachable")
	case errors.Is(err, transport.ErrTimeout):
		return i18n.T("remedy.transport.timeout")
	case errors.Is(err, transport.ErrIOFailure):
		return i18n.T("remedy.transport.io")
	case errors.Is(err, transport.ErrClosed):
		return i18n.T("remedy.transport.closed")
	}
	return i18n.T("remedy.unknown")
}

func newDiagnostic(component string, err error, at time.Time) Diagnostic {
	return Diagnostic{
		Component: component,
		Err:       err,
		Detail:    err.Error(),
		Remedy:    Remedy(err),
		At:        at,
	}
}
