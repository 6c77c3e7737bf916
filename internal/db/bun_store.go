// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"os/user"
	"strings"
	"time"

	"github.com/toeirei/pairmaster/internal/model"
	"github.com/uptrace/bun"
)

// BunStore implements Store on top of a *bun.DB for every supported dialect.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

// BunDB exposes the underlying *bun.DB for maintenance tooling.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// Type returns the dialect name the store was opened with.
func (s *BunStore) Type() string { return s.dbType }

func (s *BunStore) Close() error { return s.bun.Close() }

func (s *BunStore) GetTrustRecord(ctx context.Context, id model.DeviceIdentity) (*model.TrustRecord, error) {
	var m TrustRecordModel
	err := s.bun.NewSelect().Model(&m).Where("identity = ?", string(id)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: MapDBError(err)}
	}
	rec := trustModelToRecord(m)
	return &rec, nil
}

// PutTrustRecord replaces the record for rec.Identity inside one transaction.
func (s *BunStore) PutTrustRecord(ctx context.Context, rec model.TrustRecord) error {
	m := trustRecordToModel(rec)
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*TrustRecordModel)(nil)).Where("identity = ?", m.Identity).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&m).Exec(ctx)
		return err
	})
	if err != nil {
		return &StorageError{Op: "put", Err: MapDBError(err)}
	}
	dbLogf("db: stored trust record %s (%s)", m.Identity, m.State)
	return nil
}

func (s *BunStore) DeleteTrustRecord(ctx context.Context, id model.DeviceIdentity) error {
	if _, err := s.bun.NewDelete().Model((*TrustRecordModel)(nil)).Where("identity = ?", string(id)).Exec(ctx); err != nil {
		return &StorageError{Op: "delete", Err: MapDBError(err)}
	}
	return nil
}

func (s *BunStore) ListTrustRecords(ctx context.Context) ([]model.TrustRecord, error) {
	var ms []TrustRecordModel
	if err := s.bun.NewSelect().Model(&ms).OrderExpr("identity ASC").Scan(ctx); err != nil {
		return nil, &StorageError{Op: "list", Err: MapDBError(err)}
	}
	out := make([]model.TrustRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, trustModelToRecord(m))
	}
	return out, nil
}

func (s *BunStore) IsBlacklisted(ctx context.Context, id model.DeviceIdentity) (bool, error) {
	n, err := s.bun.NewSelect().Model((*BlacklistModel)(nil)).Where("identity = ?", string(id)).Count(ctx)
	if err != nil {
		return false, MapDBError(err)
	}
	return n > 0, nil
}

// AddBlacklist returns ErrDuplicate when the identity is already listed.
func (s *BunStore) AddBlacklist(ctx context.Context, id model.DeviceIdentity, reason string) error {
	m := BlacklistModel{Identity: string(id), Reason: reason, CreatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	_, err := s.bun.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) RemoveBlacklist(ctx context.Context, id model.DeviceIdentity) error {
	_, err := s.bun.NewDelete().Model((*BlacklistModel)(nil)).Where("identity = ?", string(id)).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) ListBlacklist(ctx context.Context) ([]model.BlacklistEntry, error) {
	var ms []BlacklistModel
	if err := s.bun.NewSelect().Model(&ms).OrderExpr("identity ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	out := make([]model.BlacklistEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, blacklistModelToEntry(m))
	}
	return out, nil
}

// currentUsername strips a Windows DOMAIN\ prefix.
func currentUsername() string {
	cur, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if parts := strings.Split(cur.Username, `\`); len(parts) > 1 {
		return parts[1]
	}
	return cur.Username
}

// LogAction records an audit entry attributed to the current OS user.
func (s *BunStore) LogAction(action string, details string) error {
	ctx := context.Background()
	_, err := ExecRaw(ctx, s.bun, "INSERT INTO audit_log (timestamp, username, action, details) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano), currentUsername(), action, details)
	return MapDBError(err)
}

func (s *BunStore) GetAllAuditLogEntries(ctx context.Context) ([]model.AuditLogEntry, error) {
	var ms []AuditLogModel
	if err := s.bun.NewSelect().Model(&ms).OrderExpr("id DESC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	out := make([]model.AuditLogEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, auditModelToEntry(m))
	}
	return out, nil
}
