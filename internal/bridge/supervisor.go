// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bridge supervises the USB bridge server (adb) and serializes all
// traffic to it through a single request slot.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/toeirei/pairmaster/internal/logging"
)

// DefaultPort is the bridge server's standard local port.
const DefaultPort = 5037

// crashGrace is how long an I/O error waits for the server exit to be
// observed before it is reported as a plain disconnect.
const crashGrace = 200 * time.Millisecond

// Config controls how the bridge server is found or started.
type Config struct {
	Path string
	Port int
	// Spawn starts a private server process. When false an already running
	// server on Port is used and never restarted.
	Spawn          bool
	StartTimeout   time.Duration
	RequestTimeout time.Duration
	ExecTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "adb"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 5 * time.Minute
	}
	return c
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces the process launcher used for the server.
func WithLauncher(l Launcher) Option { return func(s *Supervisor) { s.launch = l } }

// WithRunner replaces the runner used for one-shot bridge commands.
func WithRunner(r CommandRunner) Option { return func(s *Supervisor) { s.runner = r } }

// Supervisor owns the bridge server process. At most one request is on the
// wire at any time.
type Supervisor struct {
	cfg    Config
	launch Launcher
	runner CommandRunner
	dialer net.Dialer
	slot   chan struct{}

	mu       sync.Mutex
	proc     *running
	restarts int
}

type running struct {
	p    Process
	done chan struct{}
	err  error
}

func (r *running) exited() bool {
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *running) wait() <-chan struct{} {
	if r == nil {
		return nil
	}
	return r.done
}

// New creates a supervisor; nothing is started until EnsureRunning.
func New(cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg.withDefaults(),
		launch: execLauncher,
		runner: ExecRunner{},
		slot:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port))
}

// Restarts reports how many times a dead server has been replaced.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// EnsureRunning starts the server if it is not running. A server that died
// or froze since the last call is replaced here and nowhere else.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Spawn {
		conn, err := s.dialer.DialContext(ctx, "tcp", s.addr())
		if err != nil {
			return &Error{Kind: StartFailed, Op: "connect", Err: err}
		}
		_ = conn.Close()
		return nil
	}
	if s.proc != nil && !s.proc.exited() {
		return nil
	}
	if s.proc != nil {
		s.restarts++
		logging.Warnf("bridge: restarting server after exit: %v", s.proc.err)
	}
	s.proc = nil

	p, err := s.launch(s.cfg.Path, "-P", strconv.Itoa(s.cfg.Port), "nodaemon", "server")
	if err != nil {
		return &Error{Kind: StartFailed, Op: "launch", Detail: s.cfg.Path, Err: err}
	}
	rp := &running{p: p, done: make(chan struct{})}
	go func() {
		rp.err = p.Wait()
		close(rp.done)
	}()
	if err := s.awaitReady(ctx, rp); err != nil {
		_ = p.Kill()
		return err
	}
	s.proc = rp
	logging.Debugf("bridge: server listening on %s", s.addr())
	return nil
}

func (s *Supervisor) awaitReady(ctx context.Context, rp *running) error {
	deadline := time.NewTimer(s.cfg.StartTimeout)
	defer deadline.Stop()
	for {
		conn, err := s.dialer.DialContext(ctx, "tcp", s.addr())
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-rp.done:
			return &Error{Kind: StartFailed, Op: "launch", Detail: "server exited during startup", Err: rp.err}
		case <-deadline.C:
			return &Error{Kind: StartFailed, Op: "launch", Detail: fmt.Sprintf("server not accepting connections after %s", s.cfg.StartTimeout), Err: err}
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Stop kills a server started by this supervisor.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	rp := s.proc
	s.proc = nil
	s.mu.Unlock()
	if rp == nil || rp.exited() {
		return nil
	}
	if err := rp.p.Kill(); err != nil {
		return err
	}
	<-rp.done
	return nil
}

// acquire takes the single request slot.
func (s *Supervisor) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slot <- struct{}{}:
		return func() { <-s.slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) current() *running {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// markFrozen kills a server that stopped answering so the next
// EnsureRunning starts a fresh one.
func (s *Supervisor) markFrozen(rp *running) {
	if rp == nil {
		return
	}
	s.mu.Lock()
	if s.proc == rp {
		s.proc = nil
		s.restarts++
	}
	s.mu.Unlock()
	_ = rp.p.Kill()
}

// exchange performs one request on the slot. A non-empty serial first
// switches the connection to that device. handle reads the service reply;
// with keep set the connection is handed to the caller instead of closed.
func (s *Supervisor) exchange(ctx context.Context, serial, service string, handle func(net.Conn) error, keep bool) (net.Conn, error) {
	if err := s.EnsureRunning(ctx); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rp := s.current()
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		if rp.exited() {
			return nil, &Error{Kind: Crashed, Op: service, Err: rp.err}
		}
		return nil, &Error{Kind: StartFailed, Op: service, Detail: "server not accepting connections", Err: err}
	}

	result := make(chan error, 1)
	go func() {
		result <- converse(conn, serial, service, handle)
	}()

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			_ = conn.Close()
			return nil, s.classify(service, err, rp)
		}
		if !keep {
			_ = conn.Close()
			return nil, nil
		}
		return conn, nil
	case <-rp.wait():
		_ = conn.Close()
		<-result
		return nil, &Error{Kind: Crashed, Op: service, Err: rp.err}
	case <-timer.C:
		_ = conn.Close()
		<-result
		s.markFrozen(rp)
		return nil, &Error{Kind: Frozen, Op: service, Detail: fmt.Sprintf("no response within %s", s.cfg.RequestTimeout)}
	case <-ctx.Done():
		_ = conn.Close()
		<-result
		return nil, ctx.Err()
	}
}

func converse(conn net.Conn, serial, service string, handle func(net.Conn) error) error {
	if serial != "" {
		if err := writeRequest(conn, "host:transport:"+serial); err != nil {
			return err
		}
		if err := readStatus(conn); err != nil {
			return err
		}
	}
	if err := writeRequest(conn, service); err != nil {
		return err
	}
	if err := readStatus(conn); err != nil {
		return err
	}
	if handle != nil {
		return handle(conn)
	}
	return nil
}

func (s *Supervisor) classify(op string, err error, rp *running) error {
	var m *malformed
	if errors.As(err, &m) {
		return &Error{Kind: MalformedResponse, Op: op, Detail: m.Error()}
	}
	var f *failure
	if errors.As(err, &f) {
		return &Error{Kind: Rejected, Op: op, Detail: f.msg}
	}
	select {
	case <-rp.wait():
		return &Error{Kind: Crashed, Op: op, Err: rp.err}
	case <-time.After(crashGrace):
	}
	return &Error{Kind: Disconnected, Op: op, Err: err}
}
