// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeADB is a loopback server speaking just enough of the smart-socket
// protocol for the supervisor tests.
type fakeADB struct {
	ln       net.Listener
	mu       sync.Mutex
	services map[string]func(net.Conn)
	requests []string
}

func startFakeADB(t *testing.T) *fakeADB {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeADB{ln: ln, services: map[string]func(net.Conn){}}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeADB) port() int { return f.ln.Addr().(*net.TCPAddr).Port }

func (f *fakeADB) handle(service string, h func(net.Conn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[service] = h
}

func (f *fakeADB) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeADB) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.conn(conn)
	}
}

func (f *fakeADB) conn(c net.Conn) {
	defer c.Close()
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(c, hdr[:]); err != nil {
			return
		}
		n, err := strconv.ParseUint(string(hdr[:]), 16, 16)
		if err != nil {
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		req := string(buf)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		h := f.services[req]
		f.mu.Unlock()

		if strings.HasPrefix(req, "host:transport:") {
			_, _ = io.WriteString(c, "OKAY")
			continue
		}
		if h == nil {
			writeFail(c, "unknown service "+req)
			return
		}
		h(c)
		return
	}
}

func writeOkayString(c net.Conn, body string) {
	_, _ = io.WriteString(c, "OKAY"+fmt.Sprintf("%04x", len(body))+body)
}

func writeFail(c net.Conn, msg string) {
	_, _ = io.WriteString(c, "FAIL"+fmt.Sprintf("%04x", len(msg))+msg)
}

// fakeProcess stands in for a spawned server; Kill makes Wait return.
type fakeProcess struct {
	once   sync.Once
	killed chan struct{}
}

func newFakeProcess() *fakeProcess { return &fakeProcess{killed: make(chan struct{})} }

func (p *fakeProcess) Wait() error {
	<-p.killed
	return errors.New("signal: killed")
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}

// countingLauncher records launches and hands out fresh fake processes.
type countingLauncher struct {
	mu    sync.Mutex
	procs []*fakeProcess
	err   error
}

func (l *countingLauncher) launch(path string, args ...string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess()
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *countingLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *countingLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type fakeRunner struct {
	stdout, stderr string
	code           int
	err            error
	block          bool
	args           []string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	r.args = append([]string{name}, args...)
	if r.block {
		<-ctx.Done()
		return nil, nil, -1, ctx.Err()
	}
	return []byte(r.stdout), []byte(r.stderr), r.code, r.err
}
