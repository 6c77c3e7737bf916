// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package engine wires discovery, the device registry, pairing and the app
// installer into one UI-independent unit. Presentation layers read the
// Entries, Events and Diagnostics streams and drive the engine through its
// command methods.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/toeirei/pairmaster/internal/bootstrap"
	"github.com/toeirei/pairmaster/internal/bridge"
	"github.com/toeirei/pairmaster/internal/db"
	"github.com/toeirei/pairmaster/internal/discovery"
	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/logging"
	"github.com/toeirei/pairmaster/internal/model"
	"github.com/toeirei/pairmaster/internal/pairing"
	"github.com/toeirei/pairmaster/internal/protocol"
	"github.com/toeirei/pairmaster/internal/registry"
	"github.com/toeirei/pairmaster/internal/transport"
)

var (
	ErrUnknownDevice  = errors.New("engine: unknown device")
	ErrUnreachable    = errors.New("engine: device is not reachable")
	ErrNoBridge       = errors.New("engine: USB bridge is not configured")
	ErrAlreadyRunning = errors.New("engine: already running")
)

// Config selects the transports and tunes discovery and pairing.
type Config struct {
	PublicID     []byte
	FriendlyName string

	ScanInterval   time.Duration
	DebounceMisses int

	LAN bool
	// UDPPorts are tried in order for the beacon listener.
	UDPPorts   []int
	BeaconRate float64
	Broadcast  bool
	Bluetooth  bool

	DevicePort     int
	PeerKeyTimeout time.Duration
	Install        bootstrap.Config
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBridge enables USB discovery, the USB transport and app install.
func WithBridge(b *bridge.Supervisor) Option { return func(e *Engine) { e.bridge = b } }

// WithScanners replaces the scanners derived from Config.
func WithScanners(s ...discovery.Scanner) Option {
	return func(e *Engine) { e.scanners = s; e.customScanners = true }
}

// WithOpener replaces the channel opener derived from Config.
func WithOpener(o transport.Opener) Option { return func(e *Engine) { e.opener = o } }

// WithPairingOptions is passed through to the pairing manager.
func WithPairingOptions(opts ...pairing.Option) Option {
	return func(e *Engine) { e.pairingOpts = append(e.pairingOpts, opts...) }
}

// Engine is the running device-pairing core.
type Engine struct {
	cfg   Config
	store db.Store

	bridge         *bridge.Supervisor
	scanners       []discovery.Scanner
	customScanners bool
	usb            *discovery.USBScanner
	lan            *discovery.LANScanner
	opener         transport.Opener
	pairingOpts    []pairing.Option

	reg       *registry.Registry
	pairing   *pairing.Manager
	installer *bootstrap.Installer

	snapshots chan model.Snapshot
	ops       chan op
	entries   chan []model.RegistryEntry
	events    chan pairing.Event
	diags     chan Diagnostic

	running atomic.Bool
	looping atomic.Bool
	quit    chan struct{}
}

// op mutates the registry on the loop goroutine.
type op struct {
	apply func(*registry.Registry) bool
	done  chan struct{}
}

// New builds an engine around store. Nothing runs until Run.
func New(cfg Config, store db.Store, opts ...Option) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 2 * time.Second
	}
	if cfg.DebounceMisses <= 0 {
		cfg.DebounceMisses = 3
	}
	if cfg.DevicePort == 0 {
		cfg.DevicePort = protocol.BeaconPort
	}
	e := &Engine{
		cfg:       cfg,
		store:     store,
		reg:       registry.New(),
		snapshots: make(chan model.Snapshot, 16),
		ops:       make(chan op),
		entries:   make(chan []model.RegistryEntry, 1),
		events:    make(chan pairing.Event, 128),
		diags:     make(chan Diagnostic, 64),
		quit:      make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}

	if !e.customScanners {
		e.scanners = e.defaultScanners()
	}
	if e.opener == nil {
		openers := transport.Openers{
			model.TransportTCP:       transport.TCPOpener{DialTimeout: 10 * time.Second},
			model.TransportBluetooth: transport.BluetoothOpener{},
		}
		if e.bridge != nil {
			openers[model.TransportUSB] = transport.USBOpener{Bridge: e.bridge, DevicePort: cfg.DevicePort}
		}
		e.opener = openers
	}

	popts := append([]pairing.Option{pairing.WithAudit(store), pairing.WithBlacklist(store)}, e.pairingOpts...)
	e.pairing = pairing.NewManager(pairing.Config{
		PeerKeyTimeout: cfg.PeerKeyTimeout,
		PublicID:       cfg.PublicID,
		FriendlyName:   cfg.FriendlyName,
	}, e.opener, store, popts...)

	if e.bridge != nil {
		e.installer = bootstrap.NewInstaller(cfg.Install, e.bridge, store)
	}
	return e
}

func (e *Engine) defaultScanners() []discovery.Scanner {
	var out []discovery.Scanner
	if e.bridge != nil {
		e.usb = discovery.NewUSBScanner(e.bridge, e.cfg.Install.PackageName, 30*time.Second)
		out = append(out, e.usb)
	}
	if e.cfg.LAN {
		e.lan = discovery.NewLANScanner(e.cfg.UDPPorts, e.cfg.PublicID, rate.Limit(e.cfg.BeaconRate))
		out = append(out, e.lan)
	}
	if e.cfg.Bluetooth {
		src, err := discovery.NewBlueZSource()
		if err != nil {
			logging.Warnf("engine: bluetooth discovery disabled: %v", err)
		} else {
			out = append(out, discovery.NewBluetoothScanner(src))
		}
	}
	return out
}

// Entries streams the device list whenever it changes. Only the latest
// list is kept for a slow reader.
func (e *Engine) Entries() <-chan []model.RegistryEntry { return e.entries }

// Events streams pairing progress. Every event is delivered; the engine
// loop waits for a reader once the buffer is full.
func (e *Engine) Events() <-chan pairing.Event { return e.events }

// Diagnostics streams failures that need operator attention.
func (e *Engine) Diagnostics() <-chan Diagnostic { return e.diags }

// Current returns the latest device list.
func (e *Engine) Current() []model.RegistryEntry { return e.reg.Current() }

// Lookup finds one device by registry key.
func (e *Engine) Lookup(key string) (model.RegistryEntry, bool) { return e.reg.Lookup(key) }

// Sessions lists live pairing sessions.
func (e *Engine) Sessions() []pairing.Info { return e.pairing.Sessions() }

// Run loads trust state and drives discovery until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if err := e.load(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	e.looping.Store(true)
	g.Go(func() error { return e.loop(gctx) })

	for _, s := range e.scanners {
		r := &discovery.Runner{
			Scanner:           s,
			Interval:          e.cfg.ScanInterval,
			Debounce:          e.cfg.DebounceMisses,
			Publish:           e.publishSnapshot(gctx),
			OnPersistentError: e.discoveryFailed,
			Backoff: discovery.BackoffConfig{
				InitialDelay: e.cfg.ScanInterval,
				MaxDelay:     30 * time.Second,
				Multiplier:   2,
				Jitter:       true,
			},
		}
		g.Go(func() error { return r.Run(gctx) })
	}
	if e.lan != nil {
		g.Go(func() error {
			if err := e.lan.Listen(gctx); err != nil {
				e.report("discovery", err)
			}
			return nil
		})
	}
	if e.cfg.LAN && e.cfg.Broadcast {
		b := &discovery.Broadcaster{
			Beacon: protocol.Beacon{
				Version:  protocol.Version,
				PublicID: e.cfg.PublicID,
				TCPPort:  uint16(e.cfg.DevicePort),
			},
			Ports:          e.cfg.UDPPorts,
			Period:         time.Second,
			DiscoveryCount: 10,
		}
		g.Go(func() error {
			if err := b.Run(gctx); err != nil {
				e.report("discovery", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) load(ctx context.Context) error {
	records, err := e.store.ListTrustRecords(ctx)
	if err != nil {
		return fmt.Errorf("engine: load trust records: %w", err)
	}
	blocked, err := e.store.ListBlacklist(ctx)
	if err != nil {
		return fmt.Errorf("engine: load blacklist: %w", err)
	}
	ids := make([]model.DeviceIdentity, 0, len(blocked))
	for _, b := range blocked {
		ids = append(ids, b.Identity)
	}
	e.reg.SetTrust(records)
	e.reg.SetBlacklist(ids)
	e.publishEntries()
	logging.Debugf("engine: loaded %d trust records, %d blacklisted", len(records), len(ids))
	return nil
}

func (e *Engine) publishSnapshot(ctx context.Context) func(model.Snapshot) {
	return func(s model.Snapshot) {
		select {
		case e.snapshots <- s:
		case <-ctx.Done():
		}
	}
}

func (e *Engine) discoveryFailed(kind model.TransportKind, err error) {
	d := newDiagnostic("discovery", err, time.Now())
	d.Remedy = i18n.T("remedy.discovery.persistent", map[string]any{"Transport": string(kind)}) + " " + d.Remedy
	e.deliver(d)
}

// loop is the only goroutine that mutates the registry.
func (e *Engine) loop(ctx context.Context) error {
	defer close(e.quit)
	defer e.looping.Store(false)
	pev := e.pairing.Events()
	for {
		changed := false
		select {
		case <-ctx.Done():
			return nil
		case s := <-e.snapshots:
			changed = e.reg.Apply(s)
		case o := <-e.ops:
			changed = o.apply(e.reg)
			close(o.done)
		case ev := <-pev:
			changed = e.handleEvent(ev)
			if !e.forward(ctx, ev) {
				return nil
			}
		}
		if changed {
			e.publishEntries()
		}
	}
}

func (e *Engine) handleEvent(ev pairing.Event) bool {
	changed := false
	if ev.Identity != "" && (ev.State == pairing.StateAwaitingUserConfirmation || ev.State == pairing.StatePaired) {
		changed = e.reg.Bind(ev.Candidate.Key(), ev.Identity)
	}
	switch ev.State {
	case pairing.StatePaired:
		if ev.Record != nil {
			changed = e.reg.PutTrust(*ev.Record) || changed
		}
	case pairing.StateAwaitingUserConfirmation:
		if ev.KeyChanged {
			e.deliver(newDiagnostic("pairing", pairing.ErrKeyChangedSinceLastPairing, ev.At))
		}
	case pairing.StateFailed:
		if ev.Err != nil {
			e.deliver(newDiagnostic("pairing", ev.Err, ev.At))
		}
	}
	return changed
}

// forward hands ev to the Events reader, waiting while the stream is full.
// It reports false when ctx ended first.
func (e *Engine) forward(ctx context.Context, ev pairing.Event) bool {
	select {
	case e.events <- ev:
		return true
	default:
	}
	logging.Debugf("engine: event stream full, waiting to deliver %s for session %s", ev.State, ev.Session)
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) publishEntries() {
	v := e.reg.Current()
	select {
	case <-e.entries:
	default:
	}
	select {
	case e.entries <- v:
	default:
	}
}

// report logs and delivers a diagnostic.
func (e *Engine) report(component string, err error) {
	e.deliver(newDiagnostic(component, err, time.Now()))
}

func (e *Engine) deliver(d Diagnostic) {
	logging.Errorf("%s: %s", d.Component, d.Detail)
	select {
	case e.diags <- d:
	default:
		logging.Warnf("engine: diagnostic stream full")
	}
}

// update runs fn on the loop. Before Run starts the loop the registry is
// rebuilt from the store by load, so the update is skipped.
func (e *Engine) update(ctx context.Context, fn func(*registry.Registry) bool) error {
	if !e.looping.Load() {
		return nil
	}
	o := op{apply: fn, done: make(chan struct{})}
	select {
	case e.ops <- o:
	case <-e.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartPairing begins pairing with the device listed under key, over the
// first transport that currently reaches it.
func (e *Engine) StartPairing(ctx context.Context, key string) (uuid.UUID, error) {
	entry, ok := e.reg.Lookup(key)
	if !ok {
		return uuid.Nil, ErrUnknownDevice
	}
	if entry.Blacklisted {
		return uuid.Nil, pairing.ErrBlacklisted
	}
	c, ok := e.reg.Candidate(key)
	if !ok {
		return uuid.Nil, ErrUnreachable
	}
	return e.pairing.StartPairing(ctx, c)
}

func (e *Engine) ConfirmFingerprintMatch(ctx context.Context, id uuid.UUID) error {
	return e.pairing.ConfirmFingerprintMatch(ctx, id)
}

func (e *Engine) ConfirmKeyChange(ctx context.Context, id uuid.UUID) error {
	return e.pairing.ConfirmKeyChange(ctx, id)
}

func (e *Engine) CancelPairing(ctx context.Context, id uuid.UUID) error {
	return e.pairing.CancelPairing(ctx, id)
}

func (e *Engine) RetryPairing(ctx context.Context, id uuid.UUID) error {
	return e.pairing.RetryPairing(ctx, id)
}

// InstallApp pushes the companion app to a USB device and starts it.
func (e *Engine) InstallApp(ctx context.Context, key string) error {
	entry, ok := e.reg.Lookup(key)
	if !ok {
		return ErrUnknownDevice
	}
	reach, ok := entry.Via(model.TransportUSB)
	if !ok {
		return bootstrap.ErrNotUSB
	}
	if e.installer == nil {
		return ErrNoBridge
	}
	c := model.DeviceCandidate{Transport: model.TransportUSB, Address: reach.Address, Name: entry.Name}
	if err := e.installer.Install(ctx, c); err != nil {
		e.report("install", err)
		return err
	}
	if err := e.installer.StartApp(ctx, reach.Address, e.cfg.DevicePort); err != nil {
		e.report("install", err)
	}
	if e.usb != nil {
		e.usb.Forget(reach.Address)
	}
	return nil
}

// Revoke deletes the trust record of id.
func (e *Engine) Revoke(ctx context.Context, id model.DeviceIdentity) error {
	if err := e.store.DeleteTrustRecord(ctx, id); err != nil {
		return err
	}
	_ = e.store.LogAction("REVOKE_TRUST", fmt.Sprintf("identity=%s", id))
	return e.update(ctx, func(r *registry.Registry) bool { return r.RemoveTrust(id) })
}

// Blacklist blocks id and abandons its live sessions.
func (e *Engine) Blacklist(ctx context.Context, id model.DeviceIdentity, reason string) error {
	if err := e.store.AddBlacklist(ctx, id, reason); err != nil && !errors.Is(err, db.ErrDuplicate) {
		return err
	}
	_ = e.store.LogAction("BLACKLIST_ADD", fmt.Sprintf("identity=%s reason=%s", id, reason))
	for _, s := range e.pairing.Sessions() {
		if s.Identity == id {
			if err := e.pairing.CancelPairing(ctx, s.ID); err != nil && !errors.Is(err, pairing.ErrUnknownSession) {
				logging.Warnf("engine: cancel session %s: %v", s.ID, err)
			}
		}
	}
	return e.refreshBlacklist(ctx)
}

// Unblacklist lifts the block on id.
func (e *Engine) Unblacklist(ctx context.Context, id model.DeviceIdentity) error {
	if err := e.store.RemoveBlacklist(ctx, id); err != nil {
		return err
	}
	_ = e.store.LogAction("BLACKLIST_REMOVE", fmt.Sprintf("identity=%s", id))
	return e.refreshBlacklist(ctx)
}

func (e *Engine) refreshBlacklist(ctx context.Context) error {
	list, err := e.store.ListBlacklist(ctx)
	if err != nil {
		return err
	}
	ids := make([]model.DeviceIdentity, 0, len(list))
	for _, b := range list {
		ids = append(ids, b.Identity)
	}
	return e.update(ctx, func(r *registry.Registry) bool { return r.SetBlacklist(ids) })
}

// Close abandons all sessions and stops the package server. The bridge
// supervisor belongs to the caller.
func (e *Engine) Close() error {
	err := e.pairing.Close()
	if e.installer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := e.installer.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
