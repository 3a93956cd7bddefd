// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build linux

package platform

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// netlinkLinks implements Links over rtnetlink. Every call acts on the
// network namespace of the calling thread.
type netlinkLinks struct{}

func isNotFound(err error) bool {
	var notFound netlink.LinkNotFoundError
	return errors.As(err, &notFound)
}

func (netlinkLinks) DeleteLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up link %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("failed to delete link %s: %w", name, err)
	}
	return nil
}

func (netlinkLinks) CreateVethPair(name, peer string) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		PeerName:  peer,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("failed to create veth pair %s/%s: %w", name, peer, err)
	}
	return nil
}

func (netlinkLinks) MoveToNamespace(name string, pid int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up link %s: %w", name, err)
	}

	handle, err := netns.GetFromPid(pid)
	if err != nil {
		return fmt.Errorf("failed to open network namespace of pid %d: %w", pid, err)
	}
	defer handle.Close()

	if err := netlink.LinkSetNsFd(link, int(handle)); err != nil {
		return fmt.Errorf("failed to move link %s into namespace of pid %d: %w", name, pid, err)
	}
	return nil
}

func (netlinkLinks) SetAddress(name string, prefix netip.Prefix) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up link %s: %w", name, err)
	}

	addr := prefix.Addr()
	ipNet := &net.IPNet{
		IP:   addr.AsSlice(),
		Mask: net.CIDRMask(prefix.Bits(), addr.BitLen()),
	}
	if err := netlink.AddrReplace(link, &netlink.Addr{IPNet: ipNet}); err != nil {
		return fmt.Errorf("failed to assign %s to %s: %w", prefix, name, err)
	}
	return nil
}

func (netlinkLinks) SetUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up link %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}
	return nil
}

func (netlinkLinks) AddDefaultRoute(name string, gw netip.Addr) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up link %s: %w", name, err)
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Gw:        gw.AsSlice(),
	}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("failed to add default route via %s: %w", gw, err)
	}
	return nil
}
