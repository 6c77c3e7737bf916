// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package keys

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"

	"golang.org/x/crypto/ssh"
)

// RFC 8032 test vector 1 public key.
const fixedPeerKeyHex = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"

func fixedPeerKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	raw, _ := hex.DecodeString(fixedPeerKeyHex)
	pub, err := ssh.NewPublicKey(ed25519.PublicKey(raw))
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	return pub
}

func TestFingerprintsOfFixedKey(t *testing.T) {
	fp := Fingerprints(fixedPeerKey(t))
	if fp.SHA256 != "SHA256:bbXpuKG6zhzdmnxq256TlqzFBzRl2f6OOg722cYNbU8" {
		t.Fatalf("sha256 fingerprint = %s", fp.SHA256)
	}
	if fp.MD5 != "cf:07:be:9d:68:ae:65:54:6d:a0:93:c3:6f:bd:0d:82" {
		t.Fatalf("md5 fingerprint = %s", fp.MD5)
	}
}

func TestDeriveIdentityPrefersPublicID(t *testing.T) {
	pub := fixedPeerKey(t)
	id := DeriveIdentity([]byte("test-device-public-id"), pub)
	if id != "146c1389ef040b8302ad59d8983c47e94a279eaa785769e2df66752c0a77db6a" {
		t.Fatalf("identity = %s", id)
	}
	if DeriveIdentity(nil, pub) == id {
		t.Fatal("key-derived identity must differ from public-id identity")
	}
	if DeriveIdentity(nil, pub) != DeriveIdentity(nil, fixedPeerKey(t)) {
		t.Fatal("key-derived identity must be stable")
	}
}

func TestAgreeIsSymmetric(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sa, err := a.Agree(b.PublicKey())
	if err != nil {
		t.Fatalf("a.Agree: %v", err)
	}
	sb, err := b.Agree(a.PublicKey())
	if err != nil {
		t.Fatalf("b.Agree: %v", err)
	}
	if len(sa) != SecretSize || !bytes.Equal(sa, sb) {
		t.Fatalf("secrets differ: %x vs %x", sa, sb)
	}

	c, _ := Generate()
	sc, _ := a.Agree(c.PublicKey())
	if bytes.Equal(sa, sc) {
		t.Fatal("different peers must give different secrets")
	}
}

func TestCleanupWipesKey(t *testing.T) {
	a, _ := Generate()
	a.Cleanup()
	if _, err := a.Agree(fixedPeerKey(t)); !errors.Is(err, ErrKeyWiped) {
		t.Fatalf("expected ErrKeyWiped, got %v", err)
	}
}

func TestParsePeerKey(t *testing.T) {
	a, _ := Generate()
	pub, err := ParsePeerKey(a.Wire())
	if err != nil {
		t.Fatalf("ParsePeerKey: %v", err)
	}
	if !SameKey(pub.Marshal(), a.Wire()) {
		t.Fatal("parsed key differs")
	}

	ec, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	ecPub, _ := ssh.NewPublicKey(&ec.PublicKey)
	if _, err := ParsePeerKey(ecPub.Marshal()); !errors.Is(err, ErrUnsupportedKey) {
		t.Fatalf("expected ErrUnsupportedKey, got %v", err)
	}
	if _, err := ParsePeerKey([]byte("junk")); err == nil {
		t.Fatal("expected parse error for junk")
	}
}
