// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package thumbprint

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/toeirei/pairmaster/internal/model"
)

var fixedPair = model.FingerprintPair{
	SHA256: "SHA256:bbXpuKG6zhzdmnxq256TlqzFBzRl2f6OOg722cYNbU8",
	MD5:    "cf:07:be:9d:68:ae:65:54:6d:a0:93:c3:6f:bd:0d:82",
}

func TestDigestDecodesBothNotations(t *testing.T) {
	d, err := Digest(fixedPair.SHA256)
	if err != nil || len(d) != 32 {
		t.Fatalf("sha256 digest: len=%d err=%v", len(d), err)
	}
	m, err := Digest(fixedPair.MD5)
	if err != nil || len(m) != 16 || m[0] != 0xcf || m[15] != 0x82 {
		t.Fatalf("md5 digest: %x err=%v", m, err)
	}
	if _, err := Digest("SHA256:!!!"); err == nil {
		t.Fatal("expected error for bad base64")
	}
}

func TestRenderProducesDistinctPNGs(t *testing.T) {
	p, err := Render(fixedPair, 64)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(p.SHA256))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("unexpected size %v", b)
	}
	if bytes.Equal(p.SHA256, p.MD5) {
		t.Fatal("the two digests should not render identically")
	}
	again, _ := Render(fixedPair, 64)
	if !bytes.Equal(again.SHA256, p.SHA256) {
		t.Fatal("rendering must be deterministic")
	}
}

func TestImageIsMirrored(t *testing.T) {
	img := Image([]byte{0x0f, 0xf0, 0xaa, 0x55}, grid)
	for y := 0; y < grid; y++ {
		for x := 0; x < grid/2; x++ {
			if img.At(x, y) != img.At(grid-1-x, y) {
				t.Fatalf("pixel (%d,%d) not mirrored", x, y)
			}
		}
	}
}

func TestQR(t *testing.T) {
	b, err := QR(fixedPair.SHA256, 0)
	if err != nil {
		t.Fatalf("QR: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(b)); err != nil {
		t.Fatalf("QR is not a png: %v", err)
	}
	s, err := TerminalQR(fixedPair.SHA256)
	if err != nil || len(s) == 0 {
		t.Fatalf("TerminalQR: %q %v", s, err)
	}
}
