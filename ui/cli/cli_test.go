package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/pairing"
)

func TestRenderDevices(t *testing.T) {
	i18n.Init("en")
	var buf bytes.Buffer
	renderDevices(&buf, nil)
	if !strings.Contains(buf.String(), "No devices found.") {
		t.Fatalf("unexpected empty output: %q", buf.String())
	}

	buf.Reset()
	renderDevices(&buf, []model.RegistryEntry{{
		Key:    "tcp:192.0.2.1:24816",
		Name:   "Pixel",
		Status: model.StatusNeedsPairing,
		Reachability: []model.Reachability{
			{Transport: model.TransportTCP, Address: "192.0.2.1:24816"},
		},
	}})
	out := buf.String()
	for _, want := range []string{"Pixel", "Needs pairing", "tcp(192.0.2.1:24816)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestFindEntry(t *testing.T) {
	entries := []model.RegistryEntry{
		{Key: "146c1389ef040b83", Name: "Pixel"},
		{Key: "146c1389ffffffff", Name: "Tablet"},
		{Key: "usb:SERIAL0001"},
	}
	if e, ok := findEntry(entries, "usb:SERIAL0001"); !ok || e.Key != "usb:SERIAL0001" {
		t.Fatalf("exact key not found")
	}
	if e, ok := findEntry(entries, "Tablet"); !ok || e.Key != "146c1389ffffffff" {
		t.Fatalf("name lookup failed: %+v %v", e, ok)
	}
	if _, ok := findEntry(entries, "146c1389"); ok {
		t.Fatalf("ambiguous prefix must not match")
	}
	if e, ok := findEntry(entries, "146c1389ef"); !ok || e.Name != "Pixel" {
		t.Fatalf("unique prefix lookup failed")
	}
}

func TestTrustExportImport(t *testing.T) {
	recs := []model.TrustRecord{{
		Identity:     "abc",
		PublicKey:    []byte{1, 2, 3},
		Fingerprints: model.FingerprintPair{SHA256: "SHA256:x", MD5: "aa:bb"},
		State:        model.TrustPaired,
		FriendlyName: "Pixel",
		LastPairedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	if err := writeTrustExport(&buf, recs); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Fatalf("export is not a zstd frame")
	}
	got, err := readTrustExport(&buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(got) != 1 || got[0].Identity != "abc" || got[0].FriendlyName != "Pixel" || !got[0].LastPairedAt.Equal(recs[0].LastPairedAt) {
		t.Fatalf("unexpected records: %+v", got)
	}

	if _, err := readTrustExport(strings.NewReader("not zstd")); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestTrustExportOmitsSecrets(t *testing.T) {
	recs := []model.TrustRecord{{Identity: "abc", PublicKey: []byte{1}, SessionSecret: []byte("0123456789abcdef0123456789abcdef")}}
	var buf bytes.Buffer
	if err := writeTrustExport(&buf, recs); err != nil {
		t.Fatalf("export: %v", err)
	}
	got, err := readTrustExport(&buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(got) != 1 || got[0].SessionSecret != nil {
		t.Fatalf("export leaked the session secret: %+v", got)
	}
	if recs[0].SessionSecret == nil {
		t.Fatalf("export must not modify the caller's records")
	}
}

// memTrust is an in-memory trustImporter.
type memTrust struct {
	recs    map[model.DeviceIdentity]model.TrustRecord
	actions []string
}

func newMemTrust(recs ...model.TrustRecord) *memTrust {
	m := &memTrust{recs: make(map[model.DeviceIdentity]model.TrustRecord)}
	for _, r := range recs {
		m.recs[r.Identity] = r
	}
	return m
}

func (m *memTrust) GetTrustRecord(ctx context.Context, id model.DeviceIdentity) (*model.TrustRecord, error) {
	r, ok := m.recs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memTrust) PutTrustRecord(ctx context.Context, rec model.TrustRecord) error {
	m.recs[rec.Identity] = rec
	return nil
}

func (m *memTrust) DeleteTrustRecord(ctx context.Context, id model.DeviceIdentity) error {
	delete(m.recs, id)
	return nil
}

func (m *memTrust) ListTrustRecords(ctx context.Context) ([]model.TrustRecord, error) {
	var out []model.TrustRecord
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memTrust) LogAction(action, details string) error {
	m.actions = append(m.actions, action)
	return nil
}

func TestImportTrustRecords(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	existing := model.TrustRecord{Identity: "abc", PublicKey: []byte{1, 2, 3}, SessionSecret: secret, FriendlyName: "Pixel"}

	t.Run("different key refused", func(t *testing.T) {
		st := newMemTrust(existing)
		recs := []model.TrustRecord{
			{Identity: "new", PublicKey: []byte{7}},
			{Identity: "abc", PublicKey: []byte{9, 9, 9}, FriendlyName: "Impostor"},
		}
		_, err := importTrustRecords(context.Background(), st, recs, false)
		if !errors.Is(err, errImportKeyChanged) {
			t.Fatalf("expected key change refusal, got %v", err)
		}
		if got := st.recs["abc"]; !bytes.Equal(got.PublicKey, existing.PublicKey) || got.FriendlyName != "Pixel" {
			t.Fatalf("refused import changed the record: %+v", got)
		}
		if _, ok := st.recs["new"]; ok || len(st.actions) != 0 {
			t.Fatalf("refused import wrote to the store: recs=%v actions=%v", st.recs, st.actions)
		}
	})

	t.Run("force replaces and audits", func(t *testing.T) {
		st := newMemTrust(existing)
		recs := []model.TrustRecord{{Identity: "abc", PublicKey: []byte{9, 9, 9}, SessionSecret: []byte("from-file")}}
		n, err := importTrustRecords(context.Background(), st, recs, true)
		if err != nil || n != 1 {
			t.Fatalf("forced import: n=%d err=%v", n, err)
		}
		got := st.recs["abc"]
		if !bytes.Equal(got.PublicKey, []byte{9, 9, 9}) || got.SessionSecret != nil {
			t.Fatalf("unexpected record after forced import: %+v", got)
		}
		if strings.Join(st.actions, ",") != "PAIR_KEY_CHANGED,IMPORT_TRUST" {
			t.Fatalf("unexpected audit trail %v", st.actions)
		}
	})

	t.Run("same key keeps stored secret", func(t *testing.T) {
		st := newMemTrust(existing)
		recs := []model.TrustRecord{{Identity: "abc", PublicKey: []byte{1, 2, 3}, FriendlyName: "Pixel 9"}}
		if _, err := importTrustRecords(context.Background(), st, recs, false); err != nil {
			t.Fatalf("import: %v", err)
		}
		got := st.recs["abc"]
		if got.FriendlyName != "Pixel 9" || !bytes.Equal(got.SessionSecret, secret) {
			t.Fatalf("unexpected record %+v", got)
		}
		if strings.Join(st.actions, ",") != "IMPORT_TRUST" {
			t.Fatalf("unexpected audit trail %v", st.actions)
		}
	})
}

func TestAsk(t *testing.T) {
	var out bytes.Buffer
	cases := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false}
	for in, want := range cases {
		if got := ask(bufio.NewReader(strings.NewReader(in)), &out, "? "); got != want {
			t.Fatalf("ask(%q) = %v, want %v", in, got, want)
		}
	}
}

// fakeDriver scripts the event stream of one session.
type fakeDriver struct {
	events    chan pairing.Event
	confirmed []string
	cancelled bool
}

func newFakeDriver(evs ...pairing.Event) *fakeDriver {
	d := &fakeDriver{events: make(chan pairing.Event, len(evs)+1)}
	for _, ev := range evs {
		d.events <- ev
	}
	return d
}

func (d *fakeDriver) Events() <-chan pairing.Event { return d.events }

func (d *fakeDriver) ConfirmFingerprintMatch(ctx context.Context, id uuid.UUID) error {
	d.confirmed = append(d.confirmed, "match")
	d.events <- pairing.Event{Session: id, State: pairing.StatePaired, PeerName: "Pixel"}
	return nil
}

func (d *fakeDriver) ConfirmKeyChange(ctx context.Context, id uuid.UUID) error {
	d.confirmed = append(d.confirmed, "keychange")
	d.events <- pairing.Event{Session: id, State: pairing.StatePaired, PeerName: "Pixel"}
	return nil
}

func (d *fakeDriver) CancelPairing(ctx context.Context, id uuid.UUID) error {
	d.cancelled = true
	return nil
}

func TestDrivePairing(t *testing.T) {
	i18n.Init("en")
	id := uuid.New()
	other := uuid.New()
	awaiting := pairing.Event{
		Session:          id,
		State:            pairing.StateAwaitingUserConfirmation,
		PeerFingerprints: model.FingerprintPair{SHA256: "SHA256:bbXpuKG6zhzdmnxq256TlqzFBzRl2f6OOg722cYNbU8", MD5: "cf:07"},
	}

	t.Run("confirmed", func(t *testing.T) {
		d := newFakeDriver(pairing.Event{Session: other, State: pairing.StateFailed}, awaiting)
		var out bytes.Buffer
		if err := drivePairing(context.Background(), d, id, strings.NewReader("y\n"), &out, pairOptions{}); err != nil {
			t.Fatalf("drivePairing: %v", err)
		}
		if len(d.confirmed) != 1 || d.confirmed[0] != "match" {
			t.Fatalf("unexpected confirmations: %v", d.confirmed)
		}
		if !strings.Contains(out.String(), "SHA256:bbXpuKG6zhzdmnxq256TlqzFBzRl2f6OOg722cYNbU8") || !strings.Contains(out.String(), "Paired with Pixel.") {
			t.Fatalf("unexpected output:\n%s", out.String())
		}
	})

	t.Run("declined", func(t *testing.T) {
		d := newFakeDriver(awaiting)
		var out bytes.Buffer
		err := drivePairing(context.Background(), d, id, strings.NewReader("n\n"), &out, pairOptions{})
		if !errors.Is(err, errPairingCancelled) || !d.cancelled {
			t.Fatalf("expected cancellation, got %v (cancelled=%v)", err, d.cancelled)
		}
	})

	t.Run("closed input never confirms", func(t *testing.T) {
		d := newFakeDriver(awaiting)
		var out bytes.Buffer
		err := drivePairing(context.Background(), d, id, strings.NewReader(""), &out, pairOptions{})
		if !errors.Is(err, errPairingCancelled) || !d.cancelled {
			t.Fatalf("expected cancellation without an answer, got %v (cancelled=%v)", err, d.cancelled)
		}
		if len(d.confirmed) != 0 {
			t.Fatalf("confirmed without operator input: %v", d.confirmed)
		}
	})

	t.Run("key change needs an answer", func(t *testing.T) {
		changed := awaiting
		changed.KeyChanged = true
		d := newFakeDriver(changed)
		var out bytes.Buffer
		err := drivePairing(context.Background(), d, id, strings.NewReader(""), &out, pairOptions{})
		if !errors.Is(err, errPairingCancelled) {
			t.Fatalf("key change must need an explicit answer, got %v", err)
		}
		d = newFakeDriver(changed)
		if err := drivePairing(context.Background(), d, id, strings.NewReader("yes\n"), &out, pairOptions{}); err != nil {
			t.Fatalf("drivePairing: %v", err)
		}
		if len(d.confirmed) != 1 || d.confirmed[0] != "keychange" {
			t.Fatalf("expected ConfirmKeyChange, got %v", d.confirmed)
		}
	})

	t.Run("failure carries remedy", func(t *testing.T) {
		d := newFakeDriver(pairing.Event{Session: id, State: pairing.StateFailed, Err: pairing.ErrPeerKeyTimeout})
		err := drivePairing(context.Background(), d, id, strings.NewReader(""), &bytes.Buffer{}, pairOptions{})
		if !errors.Is(err, pairing.ErrPeerKeyTimeout) {
			t.Fatalf("expected peer key timeout, got %v", err)
		}
		if !strings.Contains(err.Error(), i18n.T("remedy.pairing.peer_key_timeout")) {
			t.Fatalf("remedy missing: %v", err)
		}
	})
}

func TestBlacklistCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	cfgPath := filepath.Join(dir, "pairmaster.yaml")
	dbPath := filepath.Join(dir, "pm.db")
	cfg := "database:\n  type: sqlite\n  dsn: " + dbPath + "\nlanguage: en\nlog:\n  level: error\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	run := func(args ...string) string {
		t.Helper()
		root := NewRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, out.String())
		}
		return out.String()
	}

	if out := run("blacklist", "add", "abc", "--reason", "lost"); !strings.Contains(out, "abc added to the blacklist.") {
		t.Fatalf("unexpected add output: %q", out)
	}
	if out := run("blacklist", "list"); !strings.Contains(out, "abc") || !strings.Contains(out, "lost") {
		t.Fatalf("unexpected list output: %q", out)
	}
	if out := run("audit"); !strings.Contains(out, "BLACKLIST_ADD") {
		t.Fatalf("audit log lacks blacklist entry: %q", out)
	}
	run("blacklist", "remove", "abc")
	if out := run("blacklist", "list"); strings.Contains(out, "abc") {
		t.Fatalf("entry still listed: %q", out)
	}
}

func TestRootHasSubcommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"devices", "pair", "install", "trust", "blacklist", "audit", "db", "config", "version"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}
