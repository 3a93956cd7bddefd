// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package firewall

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/hashicorp/ai-run/ci"
	"github.com/hashicorp/ai-run/helper/testlog"
	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/lib/platform/mock"
	"github.com/hashicorp/ai-run/policy"
	"github.com/shoenig/test/must"
)

func TestInstaller_Install(t *testing.T) {
	ci.Parallel(t)

	j := new(mock.Journal)
	_, pfs := mock.New(j, nil)

	// the mandatory DNS allow of both families is live before any lookup
	var lookups int
	resolver := &staticResolver{
		table: testResolver.table,
		before: func(string) {
			lookups++
			must.Positive(t, j.Index("ipv4 append filter OUTPUT -p udp --dport 53 -j ACCEPT")+1)
			must.Positive(t, j.Index("ipv6 append filter INPUT -p ipv6-icmp -j ACCEPT")+1)
		},
	}

	inst := NewInstaller(testlog.HCLogger(t), pfs.Factory(), resolver)
	p := mustPolicy(t, policy.Definition{NetworkWhitelist: []string{"example.test", "10.0.0.5"}})

	rs, err := inst.Install(context.Background(), p)
	must.NoError(t, err)
	must.Eq(t, 1, lookups)

	entries := j.Entries()
	must.Eq(t, "ipv4 policy filter INPUT DROP", entries[0])
	must.Eq(t, "ipv4 clear filter INPUT", entries[3])
	must.Eq(t, rs.Len(), len(entries))

	ipv4, err := pfs.Get(platform.IPv4)
	must.NoError(t, err)
	// five mandatory OUTPUT allows precede the whitelist
	must.Eq(t, []string{
		"-p tcp -d 192.0.2.10 --dport 80 -j ACCEPT",
		"-p tcp -d 192.0.2.10 --dport 443 -j ACCEPT",
		"-p tcp -d 192.0.2.11 --dport 80 -j ACCEPT",
		"-p tcp -d 192.0.2.11 --dport 443 -j ACCEPT",
		"-p tcp -d 10.0.0.5 --dport 80 -j ACCEPT",
		"-p tcp -d 10.0.0.5 --dport 443 -j ACCEPT",
	}, ipv4.Rules(Table, ChainOutput)[5:])

	must.False(t, rs.Permits(outbound("203.0.113.1", 443)))
	must.True(t, rs.Permits(outbound("10.0.0.5", 443)))
}

func TestInstaller_Install_ipv6Unavailable(t *testing.T) {
	ci.Parallel(t)

	j := new(mock.Journal)
	_, pfs := mock.New(j, nil)
	pfs.Unavailable = []platform.Family{platform.IPv6}

	logger, buf := testlog.HCLoggerNode(t, 0)
	inst := NewInstaller(logger, pfs.Factory(), testResolver)

	rs, err := inst.Install(context.Background(), mustPolicy(t, policy.Definition{}))
	must.NoError(t, err)
	must.Eq(t, []platform.Family{platform.IPv4}, rs.Families())
	must.True(t, buf.Contains("packet filter unavailable"))
	must.Eq(t, -1, j.Index("ipv6"))

	// open egress still applies to the filtered family
	must.True(t, rs.Permits(outbound("203.0.113.1", 443)))
}

func TestInstaller_Install_ipv4Unavailable(t *testing.T) {
	ci.Parallel(t)

	j := new(mock.Journal)
	_, pfs := mock.New(j, nil)
	pfs.Unavailable = []platform.Family{platform.IPv4}

	inst := NewInstaller(testlog.HCLogger(t), pfs.Factory(), testResolver)
	_, err := inst.Install(context.Background(), mustPolicy(t, policy.Definition{}))
	must.ErrorContains(t, err, "ipv4 packet filter")
	must.SliceEmpty(t, j.Entries())
}

func TestInstaller_Install_loadFailure(t *testing.T) {
	ci.Parallel(t)

	boom := errors.New("iptables: resource temporarily unavailable")

	cases := []struct {
		name    string
		prefix  string
		lookups int
	}{
		{name: "default policy", prefix: "ipv4 policy filter OUTPUT", lookups: 0},
		{name: "mandatory", prefix: "ipv6 append filter OUTPUT -o lo", lookups: 0},
		{name: "whitelist", prefix: "ipv4 append filter OUTPUT -p tcp -d 192.0.2.10", lookups: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := new(mock.Journal)
			_, pfs := mock.New(j, mock.Failures{tc.prefix: boom})

			var lookups int
			resolver := &staticResolver{table: testResolver.table, before: func(string) { lookups++ }}
			inst := NewInstaller(testlog.HCLogger(t), pfs.Factory(), resolver)

			p := mustPolicy(t, policy.Definition{NetworkWhitelist: []string{"example.test"}})
			rs, err := inst.Install(context.Background(), p)
			must.ErrorIs(t, err, boom)
			must.Nil(t, rs)
			must.Eq(t, tc.lookups, lookups)
		})
	}
}

func TestInstaller_Install_allowMode(t *testing.T) {
	ci.Parallel(t)

	j := new(mock.Journal)
	_, pfs := mock.New(j, nil)
	inst := NewInstaller(testlog.HCLogger(t), pfs.Factory(), testResolver)

	p := mustPolicy(t, policy.Definition{
		NetworkWhitelist:     []string{"10.0.0.5"},
		DefaultNetworkPolicy: "allow",
	})
	rs, err := inst.Install(context.Background(), p)
	must.NoError(t, err)

	// deny-all first, catch-all last
	entries := j.Entries()
	must.Eq(t, "ipv4 policy filter INPUT DROP", entries[0])
	must.Eq(t, "ipv6 append filter OUTPUT -j ACCEPT", entries[len(entries)-1])
	must.Len(t, 2, rs.Stage(StageAllowMode))
	must.True(t, rs.Permits(outbound("2001:db8::99", 22)))
	must.False(t, rs.Permits(Packet{Chain: ChainInput, Proto: "tcp", Dst: netip.MustParseAddr("10.200.1.2"), DPort: 22}))
}
