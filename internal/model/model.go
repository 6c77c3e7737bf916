// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the value types shared by discovery, pairing, the
// registry and the trust store.
package model

import (
	"fmt"
	"time"
)

// TransportKind names one of the ways a companion device can be reached.
type TransportKind string

const (
	TransportUSB       TransportKind = "usb"
	TransportTCP       TransportKind = "tcp"
	TransportBluetooth TransportKind = "bluetooth"
)

// AllTransports lists every transport in display order.
var AllTransports = []TransportKind{TransportUSB, TransportTCP, TransportBluetooth}

// AppState records whether the companion app is present on a USB device.
type AppState int

const (
	AppUnknown AppState = iota
	AppInstalled
	AppMissing
)

// DeviceCandidate is a device observed by a single discovery tick.
// It is rebuilt on every tick and never persisted.
type DeviceCandidate struct {
	Transport TransportKind
	// Address is the transport-local address: the bridge serial for USB,
	// host:port for TCP and the adapter MAC for Bluetooth.
	Address string
	Name    string
	// PublicID is the advertisement identifier carried by LAN beacons and
	// Bluetooth service data. USB candidates leave it empty.
	PublicID           []byte
	SeenAt             time.Time
	NeedsAuthorization bool
	App                AppState
}

// Key returns the provisional registry key for the candidate.
func (c DeviceCandidate) Key() string {
	return CandidateKey(c.Transport, c.Address)
}

// CandidateKey builds the provisional key for a transport address.
func CandidateKey(kind TransportKind, address string) string {
	return fmt.Sprintf("%s:%s", kind, address)
}

// Snapshot is the full result of one discovery tick for one transport.
// A snapshot replaces the previous snapshot of the same transport.
type Snapshot struct {
	Transport  TransportKind
	Candidates []DeviceCandidate
	TakenAt    time.Time
}

// DeviceIdentity is the stable identifier of a physical device.
type DeviceIdentity string

// TrustState is the persisted pairing lifecycle of one identity.
type TrustState string

const (
	TrustUnpaired            TrustState = "unpaired"
	TrustPendingConfirmation TrustState = "pending_confirmation"
	TrustPaired              TrustState = "paired"
	TrustRevoked             TrustState = "revoked"
)

// FingerprintPair holds two independent digests of one public key. Both are
// shown to the operator; neither is used for any security decision.
type FingerprintPair struct {
	SHA256 string `json:"sha256"`
	MD5    string `json:"md5"`
}

// Equal reports whether both digests match.
func (p FingerprintPair) Equal(o FingerprintPair) bool {
	return p.SHA256 == o.SHA256 && p.MD5 == o.MD5
}

// TrustRecord is the persisted outcome of a successful pairing.
type TrustRecord struct {
	Identity          DeviceIdentity  `json:"identity"`
	PublicKey         []byte          `json:"public_key"`
	Fingerprints      FingerprintPair `json:"fingerprints"`
	LocalFingerprints FingerprintPair `json:"local_fingerprints"`
	SessionSecret     []byte          `json:"session_secret,omitempty"`
	State             TrustState      `json:"state"`
	FriendlyName      string          `json:"friendly_name,omitempty"`
	LastPairedAt      time.Time       `json:"last_paired_at"`
}

// Status is the label the registry projects for each entry.
type Status string

const (
	StatusOnline             Status = "Online"
	StatusOffline            Status = "Offline"
	StatusNotPaired          Status = "NotPaired"
	StatusNeedsPairing       Status = "NeedsPairing"
	StatusNeedsAuthorization Status = "NeedsAuthorization"
	StatusBlacklisted        Status = "Blacklisted"
	StatusAppNotInstalled    Status = "AppNotInstalled"
)

// Reachability is what one transport currently knows about an entry.
type Reachability struct {
	Transport          TransportKind
	Address            string
	SeenAt             time.Time
	NeedsAuthorization bool
	App                AppState
}

// RegistryEntry is one row of the merged device list.
type RegistryEntry struct {
	// Key is the identity for identified devices and the provisional
	// candidate key otherwise.
	Key          string
	Identity     DeviceIdentity
	Name         string
	PublicID     []byte
	Reachability []Reachability
	Trusted      bool
	Blacklisted  bool
	Status       Status
}

// Reachable reports whether any transport currently sees the entry.
func (e RegistryEntry) Reachable() bool {
	return len(e.Reachability) > 0
}

// Via returns the reachability for a given transport, if any.
func (e RegistryEntry) Via(kind TransportKind) (Reachability, bool) {
	for _, r := range e.Reachability {
		if r.Transport == kind {
			return r, true
		}
	}
	return Reachability{}, false
}

// BlacklistEntry marks an identity that must never be paired.
type BlacklistEntry struct {
	Identity  DeviceIdentity
	Reason    string
	CreatedAt time.Time
}

// AuditLogEntry is one persisted audit record.
type AuditLogEntry struct {
	ID        int
	Timestamp string
	Username  string
	Action    string
	Details   string
}
