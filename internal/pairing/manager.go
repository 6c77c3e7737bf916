// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package pairing runs the pairing state machine. Each session is advanced
// by discrete commands (start, confirm, cancel, retry) and reports every
// transition as an Event, so the engine stays independent of any UI.
package pairing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/pairmaster/internal/crypto/keys"
	"github.com/toeirei/pairmaster/internal/crypto/thumbprint"
	"github.com/toeirei/pairmaster/internal/db"
	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/transport"
)

// DefaultPeerKeyTimeout bounds the wait for the peer's pubk frame.
const DefaultPeerKeyTimeout = 30 * time.Second

// Config tunes the manager.
type Config struct {
	PeerKeyTimeout time.Duration
	// PublicID and FriendlyName describe this desktop in the hello.
	PublicID       []byte
	FriendlyName   string
	ThumbprintSize int
}

// BlacklistChecker is the part of the blacklist store pairing consults.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, id model.DeviceIdentity) (bool, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithAudit records pairing outcomes.
func WithAudit(w db.AuditWriter) Option { return func(m *Manager) { m.audit = w } }

// WithBlacklist refuses blacklisted identities.
func WithBlacklist(b BlacklistChecker) Option { return func(m *Manager) { m.blacklist = b } }

// WithClock replaces the time source.
func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

// WithKeyGenerator replaces keys.Generate.
func WithKeyGenerator(f func() (*keys.KeyPair, error)) Option {
	return func(m *Manager) { m.keygen = f }
}

// Manager owns all sessions of one run.
type Manager struct {
	cfg       Config
	opener    transport.Opener
	store     db.TrustStore
	audit     db.AuditWriter
	blacklist BlacklistChecker
	keygen    func() (*keys.KeyPair, error)
	clock     Clock

	base   context.Context
	stop   context.CancelFunc
	events chan Event
	wg     sync.WaitGroup

	sessions    sync.Map // uuid.UUID -> *Session
	byCandidate sync.Map // candidate key -> *Session
	idMu        sync.Mutex
	idLocks     map[model.DeviceIdentity]*identityLock
	// paired records identities written by a confirmed session in this run.
	paired sync.Map
}

// NewManager creates a manager. Events must be drained by the caller.
func NewManager(cfg Config, opener transport.Opener, store db.TrustStore, opts ...Option) *Manager {
	if cfg.PeerKeyTimeout <= 0 {
		cfg.PeerKeyTimeout = DefaultPeerKeyTimeout
	}
	if cfg.ThumbprintSize <= 0 {
		cfg.ThumbprintSize = thumbprint.DefaultSize
	}
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		opener: opener,
		store:  store,
		keygen: keys.Generate,
		clock:  systemClock{},
		base:   base,
		stop:   stop,
		events: make(chan Event, 128),
	}
	for _, opt := range opts {
		opt(m)
	}
	register(m)
	return m
}

// Events delivers every session transition in order per session.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.base.Done():
	}
}

func (m *Manager) logAction(action, details string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogAction(action, details); err != nil {
		logging.Warnf("pairing: audit %s: %v", action, err)
	}
}

// identityLock serializes commits for one identity. refs counts holders
// and waiters; the entry is dropped when it reaches zero.
type identityLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Manager) lockIdentity(id model.DeviceIdentity) func() {
	m.idMu.Lock()
	if m.idLocks == nil {
		m.idLocks = make(map[model.DeviceIdentity]*identityLock)
	}
	l := m.idLocks[id]
	if l == nil {
		l = &identityLock{}
		m.idLocks[id] = l
	}
	l.refs++
	m.idMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.idMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(m.idLocks, id)
		}
		m.idMu.Unlock()
	}
}

func (m *Manager) lookup(id uuid.UUID) (*Session, error) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, ErrUnknownSession
	}
	return v.(*Session), nil
}

// forget drops a settled session from both indexes.
func (m *Manager) forget(s *Session) {
	m.sessions.CompareAndDelete(s.ID, s)
	m.byCandidate.CompareAndDelete(s.Candidate.Key(), s)
}

// StartPairing begins a session with c. Only one session per candidate may
// exist; a Failed one is replaced, anything else is refused.
func (m *Manager) StartPairing(ctx context.Context, c model.DeviceCandidate) (uuid.UUID, error) {
	if m.base.Err() != nil {
		return uuid.Nil, ErrClosed
	}
	if m.blacklist != nil && len(c.PublicID) > 0 {
		blocked, err := m.blacklist.IsBlacklisted(ctx, keys.DeriveIdentity(c.PublicID, nil))
		if err != nil {
			return uuid.Nil, failWith(StoreFailure, err)
		}
		if blocked {
			return uuid.Nil, ErrBlacklisted
		}
	}

	s := newSession(m, c)
	if prev, loaded := m.byCandidate.LoadOrStore(c.Key(), s); loaded {
		p := prev.(*Session)
		if p.State() != StateFailed {
			return uuid.Nil, ErrSessionActive
		}
		p.abandon("replaced by a new attempt")
		if _, loaded := m.byCandidate.LoadOrStore(c.Key(), s); loaded {
			return uuid.Nil, ErrSessionActive
		}
	}
	m.sessions.Store(s.ID, s)
	logging.Infof("pairing: session %s started with %s", s.ID, c.Key())
	s.start(false)
	return s.ID, nil
}

func (m *Manager) command(ctx context.Context, id uuid.UUID, kind cmdKind) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st, done := s.state, s.done
	s.mu.Unlock()
	if st != StateAwaitingUserConfirmation {
		return ErrInvalidState
	}
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{kind: kind, reply: reply}:
	case <-done:
		return ErrInvalidState
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfirmFingerprintMatch records the operator's confirmation that both
// thumbprints match and persists the trust record. It returns the commit
// result. Sessions flagged KeyChanged refuse it with
// ErrKeyChangedSinceLastPairing; use ConfirmKeyChange instead.
func (m *Manager) ConfirmFingerprintMatch(ctx context.Context, id uuid.UUID) error {
	return m.command(ctx, id, cmdConfirm)
}

// ConfirmKeyChange accepts a changed key and overwrites the stored record.
func (m *Manager) ConfirmKeyChange(ctx context.Context, id uuid.UUID) error {
	return m.command(ctx, id, cmdConfirmKeyChange)
}

// CancelPairing abandons a session from any non-terminal state and waits
// until its channel is released.
func (m *Manager) CancelPairing(ctx context.Context, id uuid.UUID) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.abandon("cancelled by operator")
	return nil
}

// RetryPairing restarts a Failed session from Init with a new keypair.
func (m *Manager) RetryPairing(ctx context.Context, id uuid.UUID) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if m.base.Err() != nil {
		return ErrClosed
	}
	return s.start(true)
}

// Session returns a snapshot of one session.
func (m *Manager) Session(id uuid.UUID) (Info, bool) {
	s, err := m.lookup(id)
	if err != nil {
		return Info{}, false
	}
	return s.info(), true
}

// Sessions lists live sessions, oldest first.
func (m *Manager) Sessions() []Info {
	var out []Info
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session).info())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CancelAll abandons every live session.
func (m *Manager) CancelAll(ctx context.Context) error {
	var lastErr error
	for _, info := range m.Sessions() {
		if err := m.CancelPairing(ctx, info.ID); err != nil && err != ErrUnknownSession {
			lastErr = err
		}
	}
	return lastErr
}

// Close abandons all sessions and stops the manager.
func (m *Manager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.CancelAll(ctx)
	m.stop()
	m.wg.Wait()
	unregister(m)
	return err
}
