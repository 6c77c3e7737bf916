// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// notExecuted is the exit code reported when the command never ran.
const notExecuted = 127

// CommandRunner runs one bridge CLI invocation to completion.
// A process killed by a signal reports exit code -1; a binary that could
// not be executed reports 127.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), err
	}
	return stdout.Bytes(), stderr.Bytes(), notExecuted, err
}

// Process is a running bridge server.
type Process interface {
	Wait() error
	Kill() error
}

// Launcher starts the long-running bridge server.
type Launcher func(path string, args ...string) (Process, error)

type cmdProcess struct{ cmd *exec.Cmd }

func (p cmdProcess) Wait() error { return p.cmd.Wait() }
func (p cmdProcess) Kill() error { return p.cmd.Process.Kill() }

func execLauncher(path string, args ...string) (Process, error) {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmdProcess{cmd: cmd}, nil
}
