// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package firewall

import (
	"context"
	"fmt"
	"net/netip"
	"testing"

	"github.com/hashicorp/ai-run/ci"
	"github.com/hashicorp/ai-run/helper/testlog"
	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/policy"
	"github.com/shoenig/test/must"
)

// staticResolver answers from a fixed table; unknown names fail.
type staticResolver struct {
	table map[string][]netip.Addr

	// before runs on every lookup
	before func(host string)
}

func (r *staticResolver) LookupIP(_ context.Context, host string) ([]netip.Addr, error) {
	if r.before != nil {
		r.before(host)
	}
	addrs, ok := r.table[host]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNoAddresses)
	}
	return addrs, nil
}

func mustPolicy(t *testing.T, def policy.Definition) *policy.Policy {
	t.Helper()
	p, err := policy.New(def)
	must.NoError(t, err)
	return p
}

func outbound(dst string, port uint16) Packet {
	return Packet{Chain: ChainOutput, Proto: "tcp", Dst: netip.MustParseAddr(dst), DPort: port}
}

var testResolver = &staticResolver{table: map[string][]netip.Addr{
	"example.test": {netip.MustParseAddr("192.0.2.10"), netip.MustParseAddr("192.0.2.11")},
	"dual.test":    {netip.MustParseAddr("192.0.2.20"), netip.MustParseAddr("2001:db8::20")},
}}

func TestCompiler_Base(t *testing.T) {
	ci.Parallel(t)

	c := NewCompiler(testlog.HCLogger(t), testResolver, platform.IPv4)
	rs := c.Base()

	rules := rs.Rules()
	must.Len(t, 6, rs.Stage(StageDefault))
	for i, chain := range Chains {
		must.EqOp(t, Rule{Stage: StageDefault, Family: platform.IPv4, Op: OpPolicy, Chain: chain, Target: TargetDrop}, rules[i])
	}
	must.SliceEmpty(t, rs.Stage(StageWhitelist))

	// every mandatory rule follows every default rule
	for i, r := range rules {
		if r.Stage == StageMandatory {
			must.Eq(t, StageDefault, rules[i-1].Stage, must.Sprint("first mandatory rule"))
			break
		}
	}

	must.True(t, rs.Permits(Packet{Chain: ChainOutput, OutIf: "lo", Proto: "tcp", Dst: netip.MustParseAddr("127.0.0.1"), DPort: 8080}))
	must.True(t, rs.Permits(Packet{Chain: ChainInput, InIf: "lo", Proto: "tcp", Dst: netip.MustParseAddr("127.0.0.1"), DPort: 8080}))
	must.True(t, rs.Permits(Packet{Chain: ChainOutput, Proto: "udp", Dst: netip.MustParseAddr("8.8.8.8"), DPort: 53}))
	must.True(t, rs.Permits(Packet{Chain: ChainOutput, Proto: "tcp", Dst: netip.MustParseAddr("8.8.8.8"), DPort: 53}))
	must.True(t, rs.Permits(Packet{Chain: ChainInput, Proto: "udp", SPort: 53}))
	must.True(t, rs.Permits(Packet{Chain: ChainOutput, Proto: "icmp", Dst: netip.MustParseAddr("1.1.1.1")}))
	must.True(t, rs.Permits(Packet{Chain: ChainInput, Proto: "tcp", SPort: 443, State: "ESTABLISHED"}))

	must.False(t, rs.Permits(outbound("1.1.1.1", 443)))
	must.False(t, rs.Permits(Packet{Chain: ChainInput, Proto: "tcp", DPort: 22}))
	must.False(t, rs.Permits(Packet{Chain: ChainForward, Proto: "tcp", DPort: 80}))
}

func TestCompiler_Base_ipv6(t *testing.T) {
	ci.Parallel(t)

	rs := NewCompiler(testlog.HCLogger(t), testResolver).Base()
	must.Eq(t, []platform.Family{platform.IPv4, platform.IPv6}, rs.Families())

	must.True(t, rs.Permits(Packet{Chain: ChainOutput, Proto: "ipv6-icmp", Dst: netip.MustParseAddr("2001:db8::1")}))
	must.False(t, rs.Permits(outbound("2001:db8::1", 443)))
}

func TestCompiler_Restricted(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name    string
		def     policy.Definition
		allowed []Packet
		denied  []Packet
	}{
		{
			name: "empty whitelist opens web egress",
			def:  policy.Definition{},
			allowed: []Packet{
				outbound("203.0.113.9", 443),
				outbound("203.0.113.9", 80),
				outbound("2001:db8::9", 443),
			},
			denied: []Packet{
				outbound("203.0.113.9", 22),
			},
		},
		{
			name: "literal only",
			def:  policy.Definition{NetworkWhitelist: []string{"10.0.0.5"}},
			allowed: []Packet{
				outbound("10.0.0.5", 80),
				outbound("10.0.0.5", 443),
			},
			denied: []Packet{
				outbound("10.0.0.6", 443),
				outbound("10.0.0.5", 8443),
			},
		},
		{
			name: "domain and unresolvable domain",
			def:  policy.Definition{NetworkWhitelist: []string{"example.test", "nowhere.test"}},
			allowed: []Packet{
				outbound("192.0.2.10", 443),
				outbound("192.0.2.11", 80),
			},
			denied: []Packet{
				outbound("192.0.2.12", 443),
			},
		},
		{
			name: "domain with both families",
			def:  policy.Definition{NetworkWhitelist: []string{"dual.test"}},
			allowed: []Packet{
				outbound("192.0.2.20", 443),
				outbound("2001:db8::20", 443),
			},
			denied: []Packet{
				outbound("2001:db8::21", 443),
			},
		},
		{
			name: "allow_all_https bypasses whitelist",
			def:  policy.Definition{NetworkWhitelist: []string{"10.0.0.5"}, AllowAllHTTPS: true},
			allowed: []Packet{
				outbound("10.0.0.5", 443),
				outbound("198.51.100.1", 443),
			},
			denied: []Packet{
				outbound("198.51.100.1", 25),
			},
		},
		{
			name: "allow mode",
			def:  policy.Definition{NetworkWhitelist: []string{"10.0.0.5"}, DefaultNetworkPolicy: "ALLOW"},
			allowed: []Packet{
				outbound("198.51.100.1", 443),
				outbound("198.51.100.1", 25),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCompiler(testlog.HCLogger(t), testResolver)
			rs := c.Compile(context.Background(), mustPolicy(t, tc.def))
			for _, p := range tc.allowed {
				must.True(t, rs.Permits(p), must.Sprintf("expected %s:%d allowed", p.Dst, p.DPort))
			}
			for _, p := range tc.denied {
				must.False(t, rs.Permits(p), must.Sprintf("expected %s:%d denied", p.Dst, p.DPort))
			}
		})
	}
}

func TestCompiler_Restricted_unresolvableSkipped(t *testing.T) {
	ci.Parallel(t)

	logger, buf := testlog.HCLoggerNode(t, 0)
	c := NewCompiler(logger, testResolver, platform.IPv4)
	p := mustPolicy(t, policy.Definition{NetworkWhitelist: []string{"nowhere.test", "example.test"}})

	rs := c.Restricted(context.Background(), p)
	must.Len(t, 4, rs.Stage(StageWhitelist))
	must.SliceEmpty(t, rs.Stage(StageEscape))
	must.True(t, buf.Contains("failed to resolve whitelist domain"))
	must.True(t, buf.Contains("nowhere.test"))
}

func TestCompiler_Restricted_dedup(t *testing.T) {
	ci.Parallel(t)

	resolver := &staticResolver{table: map[string][]netip.Addr{
		"a.test": {netip.MustParseAddr("192.0.2.1")},
		"b.test": {netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("::ffff:192.0.2.2")},
	}}
	c := NewCompiler(testlog.HCLogger(t), resolver, platform.IPv4)
	p := mustPolicy(t, policy.Definition{NetworkWhitelist: []string{"192.0.2.2", "a.test", "b.test"}})

	var dsts []string
	for _, r := range c.Restricted(context.Background(), p).Stage(StageWhitelist) {
		dsts = append(dsts, fmt.Sprintf("%s:%d", r.Dst, r.DPort))
	}
	must.Eq(t, []string{
		"192.0.2.2:80", "192.0.2.2:443",
		"192.0.2.1:80", "192.0.2.1:443",
	}, dsts)
}

func TestCompiler_Restricted_bypassWarning(t *testing.T) {
	ci.Parallel(t)

	logger, buf := testlog.HCLoggerNode(t, 0)
	c := NewCompiler(logger, testResolver, platform.IPv4)

	c.Restricted(context.Background(), mustPolicy(t, policy.Definition{AllowAllHTTPS: true}))
	must.False(t, buf.Contains("allow_all_https is set"))

	c.Restricted(context.Background(), mustPolicy(t, policy.Definition{
		AllowAllHTTPS:    true,
		NetworkWhitelist: []string{"10.0.0.5"},
	}))
	must.True(t, buf.Contains("allow_all_https is set"))
}

func TestCompiler_Restricted_unfilteredFamily(t *testing.T) {
	ci.Parallel(t)

	c := NewCompiler(testlog.HCLogger(t), testResolver, platform.IPv4)
	p := mustPolicy(t, policy.Definition{NetworkWhitelist: []string{"2001:db8::5", "10.0.0.5"}})

	rs := c.Restricted(context.Background(), p)
	must.Eq(t, []platform.Family{platform.IPv4}, rs.Families())
	must.Len(t, 2, rs.Stage(StageWhitelist))
}

func TestRule_Spec(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		rule Rule
		exp  string
	}{
		{
			rule: Rule{Op: OpAppend, Chain: ChainOutput, OutIf: "lo", Target: TargetAccept},
			exp:  "ipv4 filter -A OUTPUT -o lo -j ACCEPT",
		},
		{
			rule: Rule{Op: OpAppend, Chain: ChainInput, CtState: ctReplies, Target: TargetAccept},
			exp:  "ipv4 filter -A INPUT -m conntrack --ctstate ESTABLISHED,RELATED -j ACCEPT",
		},
		{
			rule: Rule{Family: platform.IPv6, Op: OpAppend, Chain: ChainOutput, Proto: "tcp", Dst: netip.MustParseAddr("2001:db8::1"), DPort: 443, Target: TargetAccept},
			exp:  "ipv6 filter -A OUTPUT -p tcp -d 2001:db8::1 --dport 443 -j ACCEPT",
		},
		{
			rule: Rule{Op: OpAppend, Chain: ChainInput, Proto: "udp", SPort: 53, Target: TargetAccept},
			exp:  "ipv4 filter -A INPUT -p udp --sport 53 -j ACCEPT",
		},
		{
			rule: Rule{Op: OpPolicy, Chain: ChainForward, Target: TargetDrop},
			exp:  "ipv4 filter -P FORWARD DROP",
		},
		{
			rule: Rule{Op: OpFlush, Chain: ChainInput},
			exp:  "ipv4 filter -F INPUT",
		},
	}

	for _, tc := range cases {
		must.Eq(t, tc.exp, tc.rule.String())
	}
}

func TestStage_String(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, "default", StageDefault.String())
	must.Eq(t, "allow-mode", StageAllowMode.String())
	must.Eq(t, "stage-9", Stage(9).String())
}
