// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/ai-run/helper/subproc"
	"github.com/hashicorp/ai-run/lib/platform"
	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"
)

// Control channel descriptors of the confined process, in ExtraFiles order.
const (
	controlInFd  = 3
	controlOutFd = 4
)

// ConfinedMain is the entry point of the re-executed confined process. It
// must run on the main OS thread with runtime.LockOSThread held.
func ConfinedMain() int {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "ai-run.confined",
		Output: os.Stderr,
		Level:  hclog.Info,
		Color:  hclog.AutoColor,
	})

	rv, err := openControlChannel()
	if err != nil {
		logger.Error("failed to open control channel", "error", err)
		return subproc.ExitFailure
	}
	defer rv.Close()

	return NewConfined(logger, platform.Default(), rv, unix.Exec).Run(context.Background())
}

// openControlChannel wraps the inherited control descriptors. They are made
// non-blocking first so the runtime poller, and with it read deadlines,
// applies to them.
func openControlChannel() (*Rendezvous, error) {
	var files [2]*os.File
	for i, fd := range []int{controlInFd, controlOutFd} {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, fmt.Errorf("control descriptor %d: %w", fd, err)
		}
		unix.CloseOnExec(fd)
		files[i] = os.NewFile(uintptr(fd), fmt.Sprintf("control-%d", fd))
	}
	return NewRendezvous(os.Getppid(), files[0], files[1]), nil
}
