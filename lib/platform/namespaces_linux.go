// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build linux

package platform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moby/sys/capability"
	"github.com/moby/sys/mount"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

type linuxNamespaces struct{}

func (linuxNamespaces) UnshareMount() error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("unshare(CLONE_NEWNS): %w", err)
	}
	return nil
}

func (linuxNamespaces) MakeRootPrivate() error {
	if err := mount.MakeRPrivate("/"); err != nil {
		return fmt.Errorf("failed to make / private: %w", err)
	}
	return nil
}

func (linuxNamespaces) UnshareNetwork() error {
	if err := unix.Unshare(unix.CLONE_NEWNET); err != nil {
		return fmt.Errorf("unshare(CLONE_NEWNET): %w", err)
	}
	return nil
}

func (linuxNamespaces) RootShared() (bool, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter("/"))
	if err != nil {
		return false, fmt.Errorf("failed to read mountinfo: %w", err)
	}
	for _, m := range mounts {
		if strings.Contains(m.Optional, "shared:") {
			return true, nil
		}
	}
	return false, nil
}

// ErrPrivilege is returned by Privileges.Check when a capability is absent.
var ErrPrivilege = errors.New("missing required privilege")

type capPrivileges struct{}

// required capabilities: namespaces and mounts need CAP_SYS_ADMIN, links and
// packet filters need CAP_NET_ADMIN.
var required = []capability.Cap{capability.CAP_SYS_ADMIN, capability.CAP_NET_ADMIN}

func (capPrivileges) Check() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("failed to read process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("failed to read process capabilities: %w", err)
	}

	for _, c := range required {
		if !caps.Get(capability.EFFECTIVE, c) {
			return fmt.Errorf("%w: %s (run with sudo)", ErrPrivilege, c)
		}
	}
	return nil
}

// Default returns the Linux implementation of every capability.
func Default() *Platform {
	return &Platform{
		Namespaces:    linuxNamespaces{},
		Links:         netlinkLinks{},
		Sysctl:        procSysctl{path: procForwarding},
		PacketFilters: NewPacketFilter,
		Mounter:       MounterFunc(mount.Mount),
		Syscalls:      libseccompFilter{},
		Privileges:    capPrivileges{},
	}
}
