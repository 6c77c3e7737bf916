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
)

// Version returns the bridge server's protocol version.
func (s *Supervisor) Version(ctx context.Context) (int, error) {
	var body string
	_, err := s.exchange(ctx, "", "host:version", func(c net.Conn) error {
		var err error
		body, err = readHexString(c)
		return err
	}, false)
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseInt(body, 16, 32)
	if perr != nil {
		return 0, &Error{Kind: MalformedResponse, Op: "host:version", Detail: fmt.Sprintf("bad version %q", body)}
	}
	return int(v), nil
}

// Devices enumerates the attached devices.
func (s *Supervisor) Devices(ctx context.Context) ([]Device, error) {
	var body string
	_, err := s.exchange(ctx, "", "host:devices", func(c net.Conn) error {
		var err error
		body, err = readHexString(c)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return ParseDevices(body), nil
}

// Shell runs a shell command on the device and returns its combined output.
func (s *Supervisor) Shell(ctx context.Context, serial, command string) ([]byte, error) {
	var out []byte
	_, err := s.exchange(ctx, serial, "shell:"+command, func(c net.Conn) error {
		var err error
		out, err = io.ReadAll(c)
		return err
	}, false)
	return out, err
}

// OpenStream connects to a device-side service such as "tcp:24816". The
// slot is held only while the stream is being set up.
func (s *Supervisor) OpenStream(ctx context.Context, serial, service string) (net.Conn, error) {
	return s.exchange(ctx, serial, service, nil, true)
}

// Reverse makes the device's devicePort reach localPort on this host.
func (s *Supervisor) Reverse(ctx context.Context, serial string, devicePort, localPort int) error {
	service := fmt.Sprintf("reverse:forward:tcp:%d;tcp:%d", devicePort, localPort)
	_, err := s.exchange(ctx, serial, service, func(c net.Conn) error {
		// the reverse service acknowledges once more after installing the rule
		return readStatus(c)
	}, false)
	return err
}

// ExecResult is the outcome of a one-shot bridge command that ran to
// completion, successfully or not.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs the bridge binary with args, e.g. "-s", serial, "install", path.
// The server is started or replaced first, so the client never forks one of
// its own. Exec shares the request slot with all other bridge traffic. A
// non-zero exit is returned in the result, not as an error; errors are
// reserved for the three process failure modes.
func (s *Supervisor) Exec(ctx context.Context, args ...string) (ExecResult, error) {
	if err := s.EnsureRunning(ctx); err != nil {
		return ExecResult{}, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return ExecResult{}, err
	}
	defer release()

	op := strings.Join(args, " ")
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	full := append([]string{"-P", strconv.Itoa(s.cfg.Port)}, args...)
	stdout, stderr, code, err := s.runner.Run(runCtx, s.cfg.Path, full...)
	res := ExecResult{ExitCode: code, Stdout: string(stdout), Stderr: string(stderr)}

	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return res, &Error{Kind: Frozen, Op: op, Detail: fmt.Sprintf("no result within %s", s.cfg.ExecTimeout), Err: err}
	case code == notExecuted:
		return res, &Error{Kind: StartFailed, Op: op, Err: err}
	case code < 0:
		return res, &Error{Kind: Crashed, Op: op, Detail: strings.TrimSpace(res.Stderr), Err: err}
	case code > 0:
		return res, nil
	}
	return res, &Error{Kind: StartFailed, Op: op, Err: err}
}
