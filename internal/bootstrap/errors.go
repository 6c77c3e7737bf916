// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package bootstrap

import (
	"errors"
	"fmt"
)

// InstallErrorKind separates failures the operator fixes differently.
type InstallErrorKind int

const (
	// PushFailed covers transport, permission and package problems.
	PushFailed InstallErrorKind = iota + 1
	// PolicyBlocked means the device refused the package; the operator has
	// to allow installs from unknown sources or use the browser fallback.
	PolicyBlocked
)

func (k InstallErrorKind) String() string {
	switch k {
	case PushFailed:
		return "push failed"
	case PolicyBlocked:
		return "blocked by device policy"
	default:
		return "unknown"
	}
}

// InstallError carries the bridge output verbatim in Message.
type InstallError struct {
	Kind     InstallErrorKind
	Message  string
	ExitCode int
	// Fallback is the URL opened on the device for a manual install, if any.
	Fallback string
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %s", e.Kind, e.Message)
}

func (e *InstallError) Unwrap() error { return e.Err }

func (e *InstallError) Is(target error) bool {
	t, ok := target.(*InstallError)
	return ok && t.Kind == e.Kind
}

var (
	ErrPushFailed    = &InstallError{Kind: PushFailed}
	ErrPolicyBlocked = &InstallError{Kind: PolicyBlocked}

	ErrNotUSB    = errors.New("bootstrap: candidate is not reachable over USB")
	ErrNoPackage = errors.New("bootstrap: no companion package configured")
)
