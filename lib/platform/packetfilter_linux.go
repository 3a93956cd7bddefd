// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build linux

package platform

import (
	"os"

	"github.com/coreos/go-iptables/iptables"
)

// NewPacketFilter provides an *iptables.IPTables for the requested address
// family.
func NewPacketFilter(family Family) (PacketFilter, error) {
	if family == IPv6 {
		return iptables.New(iptables.IPFamily(iptables.ProtocolIPv6), iptables.Timeout(5))
	}
	return iptables.New(iptables.Timeout(5))
}

// procForwarding is the sysctl enabling IPv4 forwarding between links.
const procForwarding = "/proc/sys/net/ipv4/ip_forward"

type procSysctl struct {
	path string
}

func (s procSysctl) EnableForwarding() error {
	return os.WriteFile(s.path, []byte("1\n"), 0o644)
}
