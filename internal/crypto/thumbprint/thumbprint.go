// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package thumbprint renders key fingerprints as images an operator can
// compare with what the device shows.
package thumbprint

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/skip2/go-qrcode"

	"github.com/toeirei/pairmaster/internal/model"
)

const grid = 8

// DefaultSize is the edge length in pixels of rendered images.
const DefaultSize = 128

// Digest decodes an OpenSSH style fingerprint ("SHA256:<base64>" or
// colon-separated hex) back to its raw bytes.
func Digest(fingerprint string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(fingerprint, "SHA256:"); ok {
		b, err := base64.RawStdEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("decode sha256 fingerprint: %w", err)
		}
		return b, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimPrefix(fingerprint, "MD5:"), ":", ""))
	if err != nil {
		return nil, fmt.Errorf("decode md5 fingerprint: %w", err)
	}
	return b, nil
}

// Image draws a mirrored block pattern for digest and scales it to size.
func Image(digest []byte, size int) image.Image {
	if size <= 0 {
		size = DefaultSize
	}
	img := image.NewNRGBA(image.Rect(0, 0, grid, grid))
	bg := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	fg := color.NRGBA{A: 0xff}
	if len(digest) >= 3 {
		// keep the foreground dark enough to read against white
		fg = color.NRGBA{R: digest[0] / 2, G: digest[1] / 2, B: digest[2] / 2, A: 0xff}
	}
	bit := 0
	for y := 0; y < grid; y++ {
		for x := 0; x < grid/2; x++ {
			c := bg
			if len(digest) > 0 && digest[(bit/8)%len(digest)]&(1<<(bit%8)) != 0 {
				c = fg
			}
			img.SetNRGBA(x, y, c)
			img.SetNRGBA(grid-1-x, y, c)
			bit++
		}
	}
	return imaging.Resize(img, size, size, imaging.NearestNeighbor)
}

// PNG renders the thumbprint of a fingerprint string as PNG bytes.
func PNG(fingerprint string, size int) ([]byte, error) {
	d, err := Digest(fingerprint)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Image(d, size), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode thumbprint: %w", err)
	}
	return buf.Bytes(), nil
}

// Pair holds rendered thumbprints for both digests of one key.
type Pair struct {
	SHA256 []byte
	MD5    []byte
}

// Render draws both fingerprints of pair.
func Render(pair model.FingerprintPair, size int) (Pair, error) {
	var out Pair
	var err error
	if out.SHA256, err = PNG(pair.SHA256, size); err != nil {
		return Pair{}, err
	}
	if out.MD5, err = PNG(pair.MD5, size); err != nil {
		return Pair{}, err
	}
	return out, nil
}

// QR encodes a fingerprint as a QR code PNG, for scanning with the device
// camera instead of comparing by eye.
func QR(fingerprint string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize * 2
	}
	return qrcode.Encode(fingerprint, qrcode.Medium, size)
}

// TerminalQR renders a fingerprint as a QR code made of block characters.
func TerminalQR(fingerprint string) (string, error) {
	q, err := qrcode.New(fingerprint, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
