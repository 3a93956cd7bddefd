// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package platform defines the kernel capabilities the sandbox core depends
// on. The core only talks to these interfaces; whether an implementation
// binds to netlink and mount(2) directly or shells out to ip(8) and
// iptables(8) is its own business.
package platform

import (
	"errors"
	"net/netip"
)

// ErrUnsupported is returned by every capability on platforms other than
// Linux.
var ErrUnsupported = errors.New("platform: not supported on this operating system")

// Namespaces creates the confined process's namespaces. Implementations act
// on the calling OS thread, so callers must hold runtime.LockOSThread.
type Namespaces interface {
	// UnshareMount moves the caller into a new mount namespace.
	UnshareMount() error

	// MakeRootPrivate marks every mount under / as recursively private so
	// later mounts never propagate to the host.
	MakeRootPrivate() error

	// UnshareNetwork moves the caller into a new, empty network namespace.
	UnshareNetwork() error

	// RootShared reports whether / still propagates mount events.
	RootShared() (bool, error)
}

// Links is the link, address and route half of the platform network
// control.
type Links interface {
	// DeleteLink removes the named link. A missing link is not an error.
	DeleteLink(name string) error

	// CreateVethPair creates a virtual ethernet pair.
	CreateVethPair(name, peer string) error

	// MoveToNamespace moves the named link into the network namespace of
	// the process pid.
	MoveToNamespace(name string, pid int) error

	// SetAddress assigns prefix to the named link, replacing an identical
	// address if present.
	SetAddress(name string, prefix netip.Prefix) error

	// SetUp brings the named link up.
	SetUp(name string) error

	// AddDefaultRoute installs a default route via gw on the named link.
	AddDefaultRoute(name string, gw netip.Addr) error
}

// Sysctl toggles kernel network parameters.
type Sysctl interface {
	EnableForwarding() error
}

// Family is an IP address family.
type Family uint8

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// FamilyOf returns the family of addr.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return IPv4
	}
	return IPv6
}

// PacketFilter is the packet-filter half of the platform network control,
// for a single address family. It is a subset of *iptables.IPTables.
type PacketFilter interface {
	ChangePolicy(table, chain, target string) error
	ClearChain(table, chain string) error
	Append(table, chain string, rulespec ...string) error
	AppendUnique(table, chain string, rulespec ...string) error
	Exists(table, chain string, rulespec ...string) (bool, error)
	Delete(table, chain string, rulespec ...string) error
}

// PacketFilterFactory returns the PacketFilter for a family. Filters act on
// the network namespace of the calling thread.
type PacketFilterFactory func(Family) (PacketFilter, error)

// Mounter performs mounts. The signature matches moby/sys/mount.Mount:
// options carries both flags ("bind", "ro") and data ("size=1m").
type Mounter interface {
	Mount(device, target, fstype, options string) error
}

// MounterFunc adapts a function to the Mounter interface.
type MounterFunc func(device, target, fstype, options string) error

func (f MounterFunc) Mount(device, target, fstype, options string) error {
	return f(device, target, fstype, options)
}

// SyscallFilter resolves syscall names and loads deny-list programs.
type SyscallFilter interface {
	// Resolve returns the number of the named syscall on the native
	// architecture.
	Resolve(name string) (int, error)

	// Load installs a program that allows every syscall except numbers,
	// which fail with EPERM. The program survives execve. Numbers that
	// could not be added are returned with their error; the rest are
	// enforced.
	Load(numbers []int) (rejected map[int]error, err error)
}

// Privileges verifies the process holds what sandbox setup requires.
type Privileges interface {
	Check() error
}

// Platform bundles every capability.
type Platform struct {
	Namespaces    Namespaces
	Links         Links
	Sysctl        Sysctl
	PacketFilters PacketFilterFactory
	Mounter       Mounter
	Syscalls      SyscallFilter
	Privileges    Privileges
}
