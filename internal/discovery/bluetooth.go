// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/toeirei/pairmaster/internal/model"
)

// ServiceUUID is the service the companion app advertises over Bluetooth.
// Its service data carries the app's public ID.
const ServiceUUID = "5e5f1b6a-0d7c-4c9e-9a52-6b1d2f8e4a17"

const bluezDevice = "org.bluez.Device1"

// ManagedObjects is the shape returned by the D-Bus ObjectManager.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// ObjectSource lists the objects BlueZ currently knows.
type ObjectSource interface {
	ManagedObjects(ctx context.Context) (ManagedObjects, error)
}

type bluezSource struct {
	conn *dbus.Conn
}

// NewBlueZSource connects to the system bus.
func NewBlueZSource() (ObjectSource, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return bluezSource{conn: conn}, nil
}

func (b bluezSource) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	var out ManagedObjects
	obj := b.conn.Object("org.bluez", "/")
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&out); err != nil {
		return nil, fmt.Errorf("bluez GetManagedObjects: %w", err)
	}
	return out, nil
}

// BluetoothScanner reports devices that advertise the companion service and
// are either connected or currently in radio range.
type BluetoothScanner struct {
	src ObjectSource
	now func() time.Time
}

func NewBluetoothScanner(src ObjectSource) *BluetoothScanner {
	return &BluetoothScanner{src: src, now: time.Now}
}

func (s *BluetoothScanner) Transport() model.TransportKind { return model.TransportBluetooth }

func (s *BluetoothScanner) Scan(ctx context.Context) ([]model.DeviceCandidate, error) {
	objs, err := s.src.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []model.DeviceCandidate
	for _, ifaces := range objs {
		props, ok := ifaces[bluezDevice]
		if !ok || !advertisesService(props) {
			continue
		}
		connected, _ := variantValue[bool](props, "Connected")
		_, inRange := props["RSSI"]
		if !connected && !inRange {
			continue
		}
		addr, _ := variantValue[string](props, "Address")
		if addr == "" {
			continue
		}
		name, _ := variantValue[string](props, "Alias")
		if name == "" {
			name, _ = variantValue[string](props, "Name")
		}
		out = append(out, model.DeviceCandidate{
			Transport: model.TransportBluetooth,
			Address:   addr,
			Name:      name,
			PublicID:  serviceData(props),
			SeenAt:    now,
		})
	}
	return out, nil
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	return t, ok
}

func advertisesService(props map[string]dbus.Variant) bool {
	uuids, _ := variantValue[[]string](props, "UUIDs")
	for _, u := range uuids {
		if strings.EqualFold(u, ServiceUUID) {
			return true
		}
	}
	return false
}

func serviceData(props map[string]dbus.Variant) []byte {
	sd, ok := variantValue[map[string]dbus.Variant](props, "ServiceData")
	if !ok {
		return nil
	}
	for k, v := range sd {
		if strings.EqualFold(k, ServiceUUID) {
			b, _ := v.Value().([]byte)
			return b
		}
	}
	return nil
}
