// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"strconv"
	"testing"
)

func TestExecReturnsExitCodes(t *testing.T) {
	srv := startFakeADB(t)
	r := &fakeRunner{code: 3, stderr: "adb: failed to install app.apk: Failure [INSTALL_FAILED_USER_RESTRICTED: Install canceled by user]", err: errors.New("exit status 3")}
	s := newTestSupervisor(t, srv, &countingLauncher{}, WithRunner(r))

	res, err := s.Exec(context.Background(), "-s", "0123456789ABCDEF", "install", "app.apk")
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 || res.Stderr != r.stderr {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []string{"adb", "-P", strconv.Itoa(srv.port()), "-s", "0123456789ABCDEF", "install", "app.apk"}
	if len(r.args) != len(want) {
		t.Fatalf("args = %v, want %v", r.args, want)
	}
	for i := range want {
		if r.args[i] != want[i] {
			t.Fatalf("args = %v, want %v", r.args, want)
		}
	}
}

func TestExecFailureModes(t *testing.T) {
	cases := []struct {
		name   string
		runner *fakeRunner
		want   error
	}{
		{"not executable", &fakeRunner{code: 127, err: errors.New("exec: \"adb\": executable file not found in $PATH")}, ErrStartFailed},
		{"killed", &fakeRunner{code: -1, stderr: "Segmentation fault", err: errors.New("signal: segmentation fault")}, ErrCrashed},
		{"hung", &fakeRunner{block: true}, ErrFrozen},
	}
	srv := startFakeADB(t)
	for _, tc := range cases {
		s := newTestSupervisor(t, srv, &countingLauncher{}, WithRunner(tc.runner))
		_, err := s.Exec(context.Background(), "devices")
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestExecStartsAndReplacesServer(t *testing.T) {
	srv := startFakeADB(t)
	l := &countingLauncher{}
	s := newTestSupervisor(t, srv, l, WithRunner(&fakeRunner{}))

	if _, err := s.Exec(context.Background(), "devices"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if l.count() != 1 {
		t.Fatalf("Exec should start the server, launches=%d", l.count())
	}

	rp := s.current()
	_ = l.last().Kill()
	<-rp.done
	if _, err := s.Exec(context.Background(), "devices"); err != nil {
		t.Fatalf("Exec after crash: %v", err)
	}
	if l.count() != 2 || s.Restarts() != 1 {
		t.Fatalf("Exec should replace a dead server, launches=%d restarts=%d", l.count(), s.Restarts())
	}
}

func TestExecReportsLaunchFailure(t *testing.T) {
	srv := startFakeADB(t)
	r := &fakeRunner{}
	s := newTestSupervisor(t, srv, &countingLauncher{err: errors.New("permission denied")}, WithRunner(r))
	if _, err := s.Exec(context.Background(), "devices"); !errors.Is(err, ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}
	if r.args != nil {
		t.Fatalf("command ran without a server: %v", r.args)
	}
}
