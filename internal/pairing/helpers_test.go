package pairing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/pairmaster/internal/db"
	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/protocol"
	"github.com/toeirei/pairmaster/internal/transport"
	"golang.org/x/crypto/ssh"
)

// RFC 8032 test 1 public key.
const testPeerKeyHex = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"

const (
	testPublicID     = "test-device-public-id"
	testIdentity     = "146c1389ef040b8302ad59d8983c47e94a279eaa785769e2df66752c0a77db6a"
	testSHA256       = "SHA256:bbXpuKG6zhzdmnxq256TlqzFBzRl2f6OOg722cYNbU8"
	testMD5          = "cf:07:be:9d:68:ae:65:54:6d:a0:93:c3:6f:bd:0d:82"
	testWaitDuration = 5 * time.Second
)

func testPeerWire(t *testing.T) []byte {
	t.Helper()
	raw, err := hex.DecodeString(testPeerKeyHex)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	pub, err := ssh.NewPublicKey(ed25519.PublicKey(raw))
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	return pub.Marshal()
}

func otherPeerWire(t *testing.T) []byte {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sp, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	return sp.Marshal()
}

// fakePeer plays the device side of the cleartext hello.
type fakePeer struct {
	publicID []byte
	name     string
	key      []byte
	// silent peers read the desktop hello but never answer.
	silent bool
	// frames, when set, replaces the normal answer.
	frames []protocol.Frame
}

func (p fakePeer) answer() []protocol.Frame {
	if p.frames != nil {
		return p.frames
	}
	out := []protocol.Frame{protocol.Ident()}
	if p.publicID != nil {
		out = append(out, protocol.PublicID(p.publicID))
	}
	if p.name != "" {
		out = append(out, protocol.FriendlyName(p.name))
	}
	return append(out, protocol.PublicKey(p.key))
}

// serve answers once the desktop sent its pair request, then reads until
// the desktop closes the stream. closed is closed at that point.
func (p fakePeer) serve(conn net.Conn, closed chan<- struct{}) {
	defer close(closed)
	defer func() { _ = conn.Close() }()
	for {
		f, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		if f.Type == protocol.TypePair {
			break
		}
	}
	if !p.silent {
		for _, f := range p.answer() {
			if err := protocol.WriteFrame(conn, f); err != nil {
				return
			}
		}
	}
	for {
		if _, err := protocol.ReadFrame(conn); err != nil {
			return
		}
	}
}

// pipeOpener connects every Open to a fresh fakePeer over net.Pipe.
type pipeOpener struct {
	peer fakePeer

	mu     sync.Mutex
	closed []chan struct{}
}

func (o *pipeOpener) Open(ctx context.Context, c model.DeviceCandidate) (transport.Channel, error) {
	client, server := net.Pipe()
	done := make(chan struct{})
	o.mu.Lock()
	o.closed = append(o.closed, done)
	o.mu.Unlock()
	go o.peer.serve(server, done)
	return transport.NewStreamChannel(c.Transport, client), nil
}

func (o *pipeOpener) opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.closed)
}

// waitReleased fails unless the n-th opened channel gets closed.
func (o *pipeOpener) waitReleased(t *testing.T, n int) {
	t.Helper()
	o.mu.Lock()
	done := o.closed[n]
	o.mu.Unlock()
	select {
	case <-done:
	case <-time.After(testWaitDuration):
		t.Fatalf("channel %d was not released", n)
	}
}

type memStore struct {
	mu      sync.Mutex
	recs    map[model.DeviceIdentity]model.TrustRecord
	puts    int
	failPut error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[model.DeviceIdentity]model.TrustRecord)}
}

func (s *memStore) GetTrustRecord(ctx context.Context, id model.DeviceIdentity) (*model.TrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memStore) PutTrustRecord(ctx context.Context, rec model.TrustRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return &db.StorageError{Op: "put", Err: s.failPut}
	}
	rec.SessionSecret = append([]byte(nil), rec.SessionSecret...)
	s.recs[rec.Identity] = rec
	s.puts++
	return nil
}

func (s *memStore) DeleteTrustRecord(ctx context.Context, id model.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *memStore) ListTrustRecords(ctx context.Context) ([]model.TrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TrustRecord
	for _, r := range s.recs {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *memStore) setFailPut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = err
}

type fixedBlacklist map[model.DeviceIdentity]bool

func (b fixedBlacklist) IsBlacklisted(ctx context.Context, id model.DeviceIdentity) (bool, error) {
	return b[id], nil
}

func newTestManager(t *testing.T, opener transport.Opener, store db.TrustStore, cfg Config, opts ...Option) *Manager {
	t.Helper()
	if cfg.PublicID == nil {
		cfg.PublicID = []byte("desktop-public-id")
	}
	if cfg.ThumbprintSize == 0 {
		cfg.ThumbprintSize = 16
	}
	m := NewManager(cfg, opener, store, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// waitEvent consumes events until one for session id matches want.
func waitEvent(t *testing.T, m *Manager, id uuid.UUID, want State) Event {
	t.Helper()
	deadline := time.After(testWaitDuration)
	for {
		select {
		case ev := <-m.Events():
			if ev.Session == id && ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("session %s never reached %s", id, want)
		}
	}
}

// drain discards events in the background until the test ends.
func drain(t *testing.T, m *Manager) {
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-m.Events():
			case <-stop:
				return
			}
		}
	}()
}

// waitState polls a session until it is in want.
func waitState(t *testing.T, m *Manager, id uuid.UUID, want State) Info {
	t.Helper()
	deadline := time.Now().Add(testWaitDuration)
	for time.Now().Before(deadline) {
		if info, ok := m.Session(id); ok && info.State == want {
			return info
		}
		time.Sleep(5 * time.Millisecond)
	}
	info, _ := m.Session(id)
	t.Fatalf("session %s stuck in %s, want %s", id, info.State, want)
	return Info{}
}

// heldIdentityLocks reports how many identities have a commit lock entry.
func (m *Manager) heldIdentityLocks() int {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return len(m.idLocks)
}
