// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/hashicorp/ai-run/helper/subproc"
)

// ConfinedSubcommand is the hidden first argument that turns a re-executed
// ai-run binary into the confined process.
const ConfinedSubcommand = "sandbox-confined"

// Child is a started confined process.
type Child interface {
	Pid() int

	// Wait blocks until the process exits and returns its exit status: the
	// exit code, or 128 plus the signal number when it was killed.
	Wait() (int, error)

	Kill() error
}

// Launcher starts the confined process. The child reads control messages
// from in and writes them to out.
type Launcher func(in, out *os.File) (Child, error)

// ExecLauncher re-executes the running binary as the confined process,
// sharing the controller's terminal. The control pipes become fds 3 and 4.
func ExecLauncher(in, out *os.File) (Child, error) {
	cmd := subproc.Command(ConfinedSubcommand)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{in, out}
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start confined process: %w", err)
	}
	return &processChild{cmd: cmd}, nil
}

type processChild struct {
	cmd *exec.Cmd
}

func (c *processChild) Pid() int {
	return c.cmd.Process.Pid
}

func (c *processChild) Wait() (int, error) {
	return exitStatus(c.cmd.Wait())
}

func (c *processChild) Kill() error {
	err := c.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// exitStatus converts the result of exec.Cmd.Wait into a shell style exit
// status.
func exitStatus(err error) (int, error) {
	if err == nil {
		return subproc.ExitSuccess, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return subproc.ExitFailure, err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}
