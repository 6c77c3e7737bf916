// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package discovery

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/time/rate"

	"github.com/toeirei/pairmaster/internal/bridge"
	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/protocol"
)

type fakeLister struct {
	devices []bridge.Device
	shell   map[string]string
	calls   int
}

func (f *fakeLister) Devices(ctx context.Context) ([]bridge.Device, error) { return f.devices, nil }

func (f *fakeLister) Shell(ctx context.Context, serial, command string) ([]byte, error) {
	f.calls++
	return []byte(f.shell[serial]), nil
}

func TestUSBScannerStates(t *testing.T) {
	l := &fakeLister{
		devices: []bridge.Device{
			{Serial: "SERIAL-APP-1", State: bridge.StateOnline},
			{Serial: "SERIAL-NOAPP", State: bridge.StateOnline},
			{Serial: "SERIAL-LOCKED", State: bridge.StateUnauthorized},
			{Serial: "SERIAL-GONE", State: bridge.StateOffline},
		},
		shell: map[string]string{
			"SERIAL-APP-1": "package:/data/app/cz.xoft.deskemes/base.apk\nPixel 7\n",
			"SERIAL-NOAPP": "Galaxy S21\n",
		},
	}
	s := NewUSBScanner(l, "cz.xoft.deskemes", time.Minute)
	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", got)
	}
	by := map[string]model.DeviceCandidate{}
	for _, c := range got {
		by[c.Address] = c
	}
	if c := by["SERIAL-APP-1"]; c.App != model.AppInstalled || c.Name != "Pixel 7" {
		t.Fatalf("app device: %+v", c)
	}
	if c := by["SERIAL-NOAPP"]; c.App != model.AppMissing || c.Name != "Galaxy S21" {
		t.Fatalf("no-app device: %+v", c)
	}
	if c := by["SERIAL-LOCKED"]; !c.NeedsAuthorization || c.App != model.AppUnknown {
		t.Fatalf("unauthorized device: %+v", c)
	}

	// probes are cached until forgotten
	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("second Scan failed: %v", err)
	}
	if l.calls != 2 {
		t.Fatalf("expected cached probes, shell calls = %d", l.calls)
	}
	s.Forget("SERIAL-NOAPP")
	_, _ = s.Scan(context.Background())
	if l.calls != 3 {
		t.Fatalf("expected re-probe after Forget, shell calls = %d", l.calls)
	}
}

func beaconBytes(t *testing.T, id string, port uint16) []byte {
	t.Helper()
	data, err := protocol.Beacon{Version: protocol.Version, PublicID: []byte(id), TCPPort: port}.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return data
}

func TestLANScannerObserveAndDrain(t *testing.T) {
	s := NewLANScanner(nil, []byte("self-id"), 0)
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.20"), Port: 40000}
	s.observe(from, beaconBytes(t, "phone-id", 24816))
	s.observe(from, beaconBytes(t, "self-id", 24816))
	s.observe(from, []byte("garbage"))

	got, _ := s.Scan(context.Background())
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %+v", got)
	}
	if got[0].Address != "192.168.1.20:24816" || !bytes.Equal(got[0].PublicID, []byte("phone-id")) {
		t.Fatalf("unexpected candidate %+v", got[0])
	}
	if again, _ := s.Scan(context.Background()); len(again) != 0 {
		t.Fatalf("scan must drain, got %+v", again)
	}
}

func TestLANScannerRateLimitsSource(t *testing.T) {
	s := NewLANScanner(nil, nil, rate.Every(time.Hour))
	s.burst = 1
	a := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 1}
	s.observe(a, beaconBytes(t, "first", 1000))
	s.observe(a, beaconBytes(t, "second", 2000))
	got, _ := s.Scan(context.Background())
	if len(got) != 1 || !strings.HasSuffix(got[0].Address, ":1000") {
		t.Fatalf("expected only the first beacon, got %+v", got)
	}
}

func TestBroadcasterReachesListener(t *testing.T) {
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	_ = probe.Close()

	s := NewLANScanner([]int{port}, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Listen(ctx) }()

	b := &Broadcaster{
		Beacon:         protocol.Beacon{Version: protocol.Version, PublicID: []byte("desktop"), TCPPort: 24816},
		Ports:          []int{port},
		Target:         net.IPv4(127, 0, 0, 1),
		Period:         10 * time.Millisecond,
		DiscoveryCount: 10,
	}
	go func() { _ = b.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := s.Scan(context.Background())
		if len(got) > 0 {
			if !bytes.Equal(got[0].PublicID, []byte("desktop")) {
				t.Fatalf("unexpected beacon %+v", got[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no beacon received")
}

type fakeObjects ManagedObjects

func (f fakeObjects) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	return ManagedObjects(f), nil
}

func TestBluetoothScannerFiltersByService(t *testing.T) {
	objs := fakeObjects{
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_01": {
			bluezDevice: {
				"Address":     dbus.MakeVariant("AA:BB:CC:DD:EE:01"),
				"Alias":       dbus.MakeVariant("Pixel 7"),
				"Connected":   dbus.MakeVariant(true),
				"UUIDs":       dbus.MakeVariant([]string{strings.ToUpper(ServiceUUID)}),
				"ServiceData": dbus.MakeVariant(map[string]dbus.Variant{ServiceUUID: dbus.MakeVariant([]byte("bt-id"))}),
			},
		},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_02": {
			bluezDevice: {
				"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:02"),
				"RSSI":    dbus.MakeVariant(int16(-60)),
				"UUIDs":   dbus.MakeVariant([]string{"0000110b-0000-1000-8000-00805f9b34fb"}),
			},
		},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_03": {
			bluezDevice: {
				"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:03"),
				"UUIDs":   dbus.MakeVariant([]string{ServiceUUID}),
			},
		},
		"/org/bluez/hci0": {
			"org.bluez.Adapter1": {"Address": dbus.MakeVariant("00:11:22:33:44:55")},
		},
	}
	got, err := NewBluetoothScanner(objs).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %+v", got)
	}
	c := got[0]
	if c.Address != "AA:BB:CC:DD:EE:01" || c.Name != "Pixel 7" || !bytes.Equal(c.PublicID, []byte("bt-id")) {
		t.Fatalf("unexpected candidate %+v", c)
	}
}
