// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/toeirei/pairmaster/internal/model"
)

// TrustStore persists trust records keyed by device identity.
// PutTrustRecord is atomic: after a failed put the previous record, if any,
// is still the one returned by GetTrustRecord.
type TrustStore interface {
	// GetTrustRecord returns nil and no error when the identity is unknown.
	GetTrustRecord(ctx context.Context, id model.DeviceIdentity) (*model.TrustRecord, error)
	PutTrustRecord(ctx context.Context, rec model.TrustRecord) error
	DeleteTrustRecord(ctx context.Context, id model.DeviceIdentity) error
	ListTrustRecords(ctx context.Context) ([]model.TrustRecord, error)
}

// BlacklistStore holds identities that must never be paired.
type BlacklistStore interface {
	IsBlacklisted(ctx context.Context, id model.DeviceIdentity) (bool, error)
	AddBlacklist(ctx context.Context, id model.DeviceIdentity, reason string) error
	RemoveBlacklist(ctx context.Context, id model.DeviceIdentity) error
	ListBlacklist(ctx context.Context) ([]model.BlacklistEntry, error)
}

// AuditWriter records user and system actions.
type AuditWriter interface {
	LogAction(action string, details string) error
}

// AuditReader lists recorded actions, newest first.
type AuditReader interface {
	GetAllAuditLogEntries(ctx context.Context) ([]model.AuditLogEntry, error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	TrustStore
	BlacklistStore
	AuditWriter
	AuditReader
	Close() error
}

var _ Store = (*BunStore)(nil)
