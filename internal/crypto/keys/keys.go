// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keys holds the pairing key material: per-attempt keypairs, peer
// key parsing, identity derivation, display fingerprints and the session
// key agreement.
package keys

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/ssh"

	"github.com/toeirei/pairmaster/internal/model"
)

// SecretSize is the length of a derived session secret.
const SecretSize = 32

const sessionInfo = "pairmaster session v1"

var (
	ErrUnsupportedKey = errors.New("peer key is not ssh-ed25519")
	ErrKeyWiped       = errors.New("keypair has been wiped")
)

// KeyPair is an ed25519 keypair scoped to a single pairing attempt.
type KeyPair struct {
	priv      ed25519.PrivateKey
	pub       ssh.PublicKey
	createdAt time.Time
}

// Generate creates a fresh keypair from crypto/rand.
func Generate() (*KeyPair, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap public key: %w", err)
	}
	return &KeyPair{priv: priv, pub: sshPub, createdAt: time.Now()}, nil
}

// PublicKey returns the public half.
func (k *KeyPair) PublicKey() ssh.PublicKey { return k.pub }

// Wire returns the public key in SSH wire format, as sent in a pubk frame.
func (k *KeyPair) Wire() []byte { return k.pub.Marshal() }

// CreatedAt reports when the keypair was generated.
func (k *KeyPair) CreatedAt() time.Time { return k.createdAt }

// Cleanup zeroes the private key. The keypair is unusable afterwards.
func (k *KeyPair) Cleanup() {
	for i := range k.priv {
		k.priv[i] = 0
	}
	k.priv = nil
}

// ParsePeerKey decodes a pubk payload and insists on an ed25519 key, the
// only type the key agreement supports.
func ParsePeerKey(wire []byte) (ssh.PublicKey, error) {
	pub, err := ssh.ParsePublicKey(wire)
	if err != nil {
		return nil, fmt.Errorf("invalid peer key: %w", err)
	}
	if pub.Type() != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedKey, pub.Type())
	}
	return pub, nil
}

// Fingerprints returns the SHA-256 and legacy MD5 fingerprints of pub in
// the usual OpenSSH notation.
func Fingerprints(pub ssh.PublicKey) model.FingerprintPair {
	return model.FingerprintPair{
		SHA256: ssh.FingerprintSHA256(pub),
		MD5:    ssh.FingerprintLegacyMD5(pub),
	}
}

// DeriveIdentity computes the stable identity of a device. The public ID the
// app announces survives key resets, so it is preferred; the key itself is
// the fallback for peers that announce none.
func DeriveIdentity(publicID []byte, pub ssh.PublicKey) model.DeviceIdentity {
	var sum [32]byte
	if len(publicID) > 0 {
		sum = sha256.Sum256(publicID)
	} else {
		sum = sha256.Sum256(pub.Marshal())
	}
	return model.DeviceIdentity(hex.EncodeToString(sum[:]))
}

// SameKey reports whether two public keys are byte-identical.
func SameKey(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// Agree derives the session secret shared with peer. Both keys are mapped
// to X25519, the Diffie-Hellman output is run through HKDF-SHA256 salted
// with both public keys in a fixed order, so both sides get the same value.
func (k *KeyPair) Agree(peer ssh.PublicKey) ([]byte, error) {
	if k.priv == nil {
		return nil, ErrKeyWiped
	}
	local, err := x25519Private(k.priv)
	if err != nil {
		return nil, err
	}
	remote, err := x25519Public(peer)
	if err != nil {
		return nil, err
	}
	shared, err := local.ECDH(remote)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	defer wipe(shared)

	a, b := k.Wire(), peer.Marshal()
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	salt := append(append([]byte(nil), a...), b...)

	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sessionInfo)), secret); err != nil {
		return nil, fmt.Errorf("derive session secret: %w", err)
	}
	return secret, nil
}

func x25519Private(priv ed25519.PrivateKey) (*ecdh.PrivateKey, error) {
	h := sha512.Sum512(priv.Seed())
	defer wipe(h[:])
	return ecdh.X25519().NewPrivateKey(h[:32])
}

func x25519Public(pub ssh.PublicKey) (*ecdh.PublicKey, error) {
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	edPub, ok := cpk.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("peer key is not a valid curve point: %w", err)
	}
	return ecdh.X25519().NewPublicKey(p.BytesMontgomery())
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
