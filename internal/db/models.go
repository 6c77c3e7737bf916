package db

import (
	"time"

	"github.com/toeirei/pairmaster/internal/model"
	"github.com/uptrace/bun"
)

// TrustRecordModel is the row shape of trust_records.
type TrustRecordModel struct {
	bun.BaseModel          `bun:"table:trust_records"`
	Identity               string    `bun:"identity,pk"`
	PublicKey              []byte    `bun:"public_key"`
	FingerprintSHA256      string    `bun:"fingerprint_sha256"`
	FingerprintMD5         string    `bun:"fingerprint_md5"`
	LocalFingerprintSHA256 string    `bun:"local_fingerprint_sha256"`
	LocalFingerprintMD5    string    `bun:"local_fingerprint_md5"`
	SessionSecret          []byte    `bun:"session_secret"`
	State                  string    `bun:"state"`
	FriendlyName           string    `bun:"friendly_name"`
	LastPairedAt           time.Time `bun:"last_paired_at"`
}

// BlacklistModel is the row shape of device_blacklist.
type BlacklistModel struct {
	bun.BaseModel `bun:"table:device_blacklist"`
	Identity      string `bun:"identity,pk"`
	Reason        string `bun:"reason"`
	CreatedAt     string `bun:"created_at"`
}

// AuditLogModel is the row shape of audit_log.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Username      string `bun:"username"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

func trustRecordToModel(r model.TrustRecord) TrustRecordModel {
	return TrustRecordModel{
		Identity:               string(r.Identity),
		PublicKey:              r.PublicKey,
		FingerprintSHA256:      r.Fingerprints.SHA256,
		FingerprintMD5:         r.Fingerprints.MD5,
		LocalFingerprintSHA256: r.LocalFingerprints.SHA256,
		LocalFingerprintMD5:    r.LocalFingerprints.MD5,
		SessionSecret:          r.SessionSecret,
		State:                  string(r.State),
		FriendlyName:           r.FriendlyName,
		LastPairedAt:           r.LastPairedAt.UTC(),
	}
}

func trustModelToRecord(m TrustRecordModel) model.TrustRecord {
	return model.TrustRecord{
		Identity:          model.DeviceIdentity(m.Identity),
		PublicKey:         m.PublicKey,
		Fingerprints:      model.FingerprintPair{SHA256: m.FingerprintSHA256, MD5: m.FingerprintMD5},
		LocalFingerprints: model.FingerprintPair{SHA256: m.LocalFingerprintSHA256, MD5: m.LocalFingerprintMD5},
		SessionSecret:     m.SessionSecret,
		State:             model.TrustState(m.State),
		FriendlyName:      m.FriendlyName,
		LastPairedAt:      m.LastPairedAt,
	}
}

func blacklistModelToEntry(m BlacklistModel) model.BlacklistEntry {
	t, _ := time.Parse(time.RFC3339Nano, m.CreatedAt)
	return model.BlacklistEntry{Identity: model.DeviceIdentity(m.Identity), Reason: m.Reason, CreatedAt: t}
}

func auditModelToEntry(m AuditLogModel) model.AuditLogEntry {
	return model.AuditLogEntry{ID: m.ID, Timestamp: m.Timestamp, Username: m.Username, Action: m.Action, Details: m.Details}
}
