// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package pairing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/pairmaster/internal/crypto/keys"
	"github.com/toeirei/pairmaster/internal/crypto/thumbprint"
	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/protocol"
	"github.com/toeirei/pairmaster/internal/transport"
	"golang.org/x/crypto/ssh"
)

type cmdKind int

const (
	cmdConfirm cmdKind = iota
	cmdConfirmKeyChange
)

type command struct {
	kind  cmdKind
	reply chan error
}

// Session is one interactive pairing flow with one candidate. It lives in
// memory only; a successful run leaves a TrustRecord behind and nothing else.
type Session struct {
	ID        uuid.UUID
	Candidate model.DeviceCandidate
	CreatedAt time.Time

	m    *Manager
	cmds chan command

	mu         sync.Mutex
	state      State
	key        *keys.KeyPair
	ch         transport.Channel
	peerWire   []byte
	peerKey    ssh.PublicKey
	peerID     []byte
	peerName   string
	identity   model.DeviceIdentity
	peerFP     model.FingerprintPair
	localFP    model.FingerprintPair
	keyChanged bool
	err        error
	cancel     context.CancelFunc
	done       chan struct{}
}

func newSession(m *Manager, c model.DeviceCandidate) *Session {
	return &Session{
		ID:        uuid.New(),
		Candidate: c,
		CreatedAt: m.clock.Now(),
		m:         m,
		cmds:      make(chan command),
		state:     StateInit,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:                s.ID,
		Candidate:         s.Candidate,
		State:             s.state,
		CreatedAt:         s.CreatedAt,
		Identity:          s.identity,
		PeerFingerprints:  s.peerFP,
		LocalFingerprints: s.localFP,
		KeyChanged:        s.keyChanged,
		Err:               s.err,
	}
}

// start launches a fresh attempt from Init. With retry set the session
// must be Failed; the check and the reset share one critical section so
// concurrent retries launch a single attempt.
func (s *Session) start(retry bool) error {
	ctx, cancel := context.WithCancel(s.m.base)
	done := make(chan struct{})
	s.mu.Lock()
	if retry && s.state != StateFailed {
		s.mu.Unlock()
		cancel()
		return ErrInvalidState
	}
	s.state = StateInit
	s.err = nil
	s.keyChanged = false
	s.peerWire, s.peerKey, s.peerID, s.peerName = nil, nil, nil, ""
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.m.wg.Add(1)
	go func() {
		defer s.m.wg.Done()
		defer cancel()
		s.run(ctx, done)
	}()
	return nil
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := s.attempt(ctx)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		s.abandon("cancelled")
		return
	}
	s.fail(err)
}

// attempt drives one pass of the state machine. A nil return means the
// session already settled (Paired, or Failed after a commit).
func (s *Session) attempt(ctx context.Context) error {
	kp, err := s.m.keygen()
	if err != nil {
		return fmt.Errorf("pairing: generate key: %w", err)
	}
	s.mu.Lock()
	s.key = kp
	s.localFP = keys.Fingerprints(kp.PublicKey())
	s.mu.Unlock()
	s.emit(StateInit, nil)

	ch, err := s.m.opener.Open(ctx, s.Candidate)
	if err != nil {
		return failWith(TransportFailure, err)
	}
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	if err := s.sendHello(ctx, kp); err != nil {
		return failWith(TransportFailure, err)
	}
	s.transition(StateAwaitingPeerKey, nil)

	keyCtx, cancel := context.WithTimeout(ctx, s.m.cfg.PeerKeyTimeout)
	err = s.receivePeerKey(keyCtx)
	timedOut := errors.Is(keyCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if ctx.Err() == nil && timedOut {
			return failWith(PeerKeyTimeout, err)
		}
		return err
	}

	if s.m.blacklist != nil {
		blocked, err := s.m.blacklist.IsBlacklisted(ctx, s.identity)
		if err != nil {
			return failWith(StoreFailure, err)
		}
		if blocked {
			return failWith(Blacklisted, fmt.Errorf("identity %s", s.identity))
		}
	}

	existing, err := s.m.store.GetTrustRecord(ctx, s.identity)
	if err != nil {
		return failWith(StoreFailure, err)
	}
	if existing != nil && existing.State == model.TrustPaired {
		if keys.SameKey(existing.PublicKey, s.peerWire) {
			if err := s.commit(ctx, true); err != nil {
				s.fail(err)
			}
			return nil
		}
		s.mu.Lock()
		s.keyChanged = true
		s.mu.Unlock()
		logging.Warnf("pairing: key of %s changed since last pairing (stored %s, received %s)", s.identity, existing.Fingerprints.SHA256, s.peerFP.SHA256)
	}

	var notice error
	if s.keyChanged {
		notice = ErrKeyChangedSinceLastPairing
	}
	s.transition(StateAwaitingUserConfirmation, notice)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.cmds:
			if c.kind == cmdConfirm && s.keyChanged {
				c.reply <- ErrKeyChangedSinceLastPairing
				continue
			}
			if c.kind == cmdConfirmKeyChange && !s.keyChanged {
				c.reply <- ErrInvalidState
				continue
			}
			s.transition(StateConfirmed, nil)
			err := s.commit(ctx, false)
			if err != nil {
				s.fail(err)
			}
			c.reply <- err
			return nil
		}
	}
}

func (s *Session) sendHello(ctx context.Context, kp *keys.KeyPair) error {
	frames := []protocol.Frame{protocol.Ident()}
	if len(s.m.cfg.PublicID) > 0 {
		frames = append(frames, protocol.PublicID(s.m.cfg.PublicID))
	}
	if s.m.cfg.FriendlyName != "" {
		frames = append(frames, protocol.FriendlyName(s.m.cfg.FriendlyName))
	}
	frames = append(frames, protocol.PublicKey(kp.Wire()), protocol.PairRequest())
	for _, f := range frames {
		if err := s.ch.Send(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// receivePeerKey reads the peer hello up to and including its public key.
func (s *Session) receivePeerKey(ctx context.Context) error {
	first := true
	for {
		f, err := s.ch.Receive(ctx)
		if err != nil {
			return failWith(TransportFailure, err)
		}
		if first {
			if f.Type != protocol.TypeIdent {
				return failWith(ProtocolViolation, fmt.Errorf("expected %s first, got %s", protocol.TypeIdent, f.Type))
			}
			if _, err := protocol.ParseIdent(f.Payload); err != nil {
				return failWith(ProtocolViolation, err)
			}
			first = false
			continue
		}
		switch f.Type {
		case protocol.TypePublicID:
			s.mu.Lock()
			s.peerID = bytes.Clone(f.Payload)
			s.mu.Unlock()
		case protocol.TypeFriendlyName:
			s.mu.Lock()
			s.peerName = string(f.Payload)
			s.mu.Unlock()
		case protocol.TypeAvatar, protocol.TypePair:
		case protocol.TypePublicKey:
			pub, err := keys.ParsePeerKey(f.Payload)
			if err != nil {
				return failWith(ProtocolViolation, err)
			}
			s.mu.Lock()
			s.peerWire = bytes.Clone(f.Payload)
			s.peerKey = pub
			s.peerFP = keys.Fingerprints(pub)
			pid := s.peerID
			if len(pid) == 0 {
				pid = s.Candidate.PublicID
			}
			s.identity = keys.DeriveIdentity(pid, pub)
			s.mu.Unlock()
			return nil
		default:
			return failWith(ProtocolViolation, fmt.Errorf("unexpected %s frame during handshake", f.Type))
		}
	}
}

// commit derives the session secret and writes the trust record. Writes for
// one identity are serialized; a second confirmed write in the same run is
// refused unless it is a reconnection with an unchanged key.
func (s *Session) commit(ctx context.Context, fastPath bool) error {
	unlock := s.m.lockIdentity(s.identity)
	defer unlock()

	if !fastPath {
		if _, dup := s.m.paired.Load(s.identity); dup {
			return failWith(AlreadyPairedInSession, fmt.Errorf("identity %s", s.identity))
		}
	}

	secret, err := s.key.Agree(s.peerKey)
	if err != nil {
		return failWith(ProtocolViolation, err)
	}

	s.mu.Lock()
	name := s.peerName
	if name == "" {
		name = s.Candidate.Name
	}
	rec := model.TrustRecord{
		Identity:          s.identity,
		PublicKey:         s.peerWire,
		Fingerprints:      s.peerFP,
		LocalFingerprints: s.localFP,
		SessionSecret:     secret,
		State:             model.TrustPaired,
		FriendlyName:      name,
		LastPairedAt:      s.m.clock.Now(),
	}
	keyChanged := s.keyChanged
	s.mu.Unlock()

	if err := s.m.store.PutTrustRecord(ctx, rec); err != nil {
		clear(secret)
		return failWith(StoreFailure, err)
	}
	s.m.paired.Store(s.identity, s.ID)

	action := "PAIR_DEVICE"
	switch {
	case fastPath:
		action = "PAIR_RECONNECT"
	case keyChanged:
		action = "PAIR_KEY_CHANGED"
	}
	s.m.logAction(action, fmt.Sprintf("identity=%s transport=%s address=%s sha256=%s", rec.Identity, s.Candidate.Transport, s.Candidate.Address, rec.Fingerprints.SHA256))

	// The encrypted phase is owned by the app layer; tell the peer and
	// hand the channel back.
	if err := s.ch.Send(ctx, protocol.StartTLS()); err != nil {
		logging.Debugf("pairing: %s: stls not delivered: %v", s.ID, err)
	}

	public := rec
	public.SessionSecret = nil
	s.mu.Lock()
	s.state = StatePaired
	s.mu.Unlock()
	s.release()
	s.m.forget(s)
	s.publish(StatePaired, func(ev *Event) {
		ev.Record = &public
		ev.FastPath = fastPath
	})
	return nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()
	s.release()
	logging.Infof("pairing: session %s with %s failed: %v", s.ID, s.Candidate.Key(), err)
	s.m.logAction("PAIR_FAILED", fmt.Sprintf("candidate=%s reason=%v", s.Candidate.Key(), err))
	s.publish(StateFailed, nil)
}

func (s *Session) abandon(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateAbandoned
	s.mu.Unlock()
	s.release()
	s.m.forget(s)
	s.m.logAction("PAIR_ABANDONED", fmt.Sprintf("candidate=%s reason: %s", s.Candidate.Key(), reason))
	s.publish(StateAbandoned, nil)
}

// release closes the channel and wipes the ephemeral key.
func (s *Session) release() {
	s.mu.Lock()
	ch, kp := s.ch, s.key
	s.ch, s.key = nil, nil
	s.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	if kp != nil {
		kp.Cleanup()
	}
}

func (s *Session) transition(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.emit(st, err)
}

func (s *Session) emit(st State, err error) {
	s.publish(st, func(ev *Event) { ev.Err = err })
}

func (s *Session) publish(st State, mutate func(*Event)) {
	s.mu.Lock()
	ev := Event{
		Session:           s.ID,
		Candidate:         s.Candidate,
		State:             st,
		At:                s.m.clock.Now(),
		Identity:          s.identity,
		PeerName:          s.peerName,
		PeerFingerprints:  s.peerFP,
		LocalFingerprints: s.localFP,
		KeyChanged:        s.keyChanged,
		Err:               s.err,
	}
	s.mu.Unlock()
	if st == StateAwaitingUserConfirmation {
		ev.Thumbprints = s.m.render(ev.LocalFingerprints, ev.PeerFingerprints)
	}
	if st != StateFailed {
		ev.Err = nil
	}
	if mutate != nil {
		mutate(&ev)
	}
	s.m.emit(ev)
}

func (m *Manager) render(local, peer model.FingerprintPair) *Thumbprints {
	l, err := thumbprint.Render(local, m.cfg.ThumbprintSize)
	if err != nil {
		logging.Debugf("pairing: render local thumbprint: %v", err)
		return nil
	}
	p, err := thumbprint.Render(peer, m.cfg.ThumbprintSize)
	if err != nil {
		logging.Debugf("pairing: render peer thumbprint: %v", err)
		return nil
	}
	return &Thumbprints{Local: l, Peer: p}
}
