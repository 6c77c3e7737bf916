// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/toeirei/pairmaster/internal/bridge"
	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/model"
)

// DeviceLister is the part of the bridge the USB scanner needs.
type DeviceLister interface {
	Devices(ctx context.Context) ([]bridge.Device, error)
	Shell(ctx context.Context, serial, command string) ([]byte, error)
}

type usbProbe struct {
	app  model.AppState
	name string
}

// USBScanner enumerates bridge-attached devices and checks each online one
// for the companion app. Probe results are cached per serial.
type USBScanner struct {
	bridge      DeviceLister
	packageName string
	probes      *expirable.LRU[string, usbProbe]
	now         func() time.Time
}

// NewUSBScanner caches app probes for ttl.
func NewUSBScanner(b DeviceLister, packageName string, ttl time.Duration) *USBScanner {
	return &USBScanner{
		bridge:      b,
		packageName: packageName,
		probes:      expirable.NewLRU[string, usbProbe](256, nil, ttl),
		now:         time.Now,
	}
}

func (s *USBScanner) Transport() model.TransportKind { return model.TransportUSB }

func (s *USBScanner) Scan(ctx context.Context) ([]model.DeviceCandidate, error) {
	devs, err := s.bridge.Devices(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.DeviceCandidate, 0, len(devs))
	for _, d := range devs {
		c := model.DeviceCandidate{Transport: model.TransportUSB, Address: d.Serial, SeenAt: now}
		switch d.State {
		case bridge.StateOffline:
			continue
		case bridge.StateUnauthorized:
			c.NeedsAuthorization = true
		case bridge.StateOnline:
			p := s.probe(ctx, d.Serial)
			c.App = p.app
			c.Name = p.name
		}
		out = append(out, c)
	}
	return out, nil
}

// Forget drops the cached probe so the next scan checks the device again,
// e.g. right after an install.
func (s *USBScanner) Forget(serial string) {
	s.probes.Remove(serial)
}

func (s *USBScanner) probe(ctx context.Context, serial string) usbProbe {
	if p, ok := s.probes.Get(serial); ok {
		return p
	}
	out, err := s.bridge.Shell(ctx, serial, "pm path "+s.packageName+"; getprop ro.product.model")
	if err != nil {
		logging.Debugf("discovery: app probe on %s failed: %v", serial, err)
		return usbProbe{app: model.AppUnknown}
	}
	p := parseProbe(string(out))
	s.probes.Add(serial, p)
	return p
}

func parseProbe(out string) usbProbe {
	p := usbProbe{app: model.AppMissing}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "package:"):
			p.app = model.AppInstalled
		default:
			p.name = line
		}
	}
	return p
}
