// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package firewall

import (
	"context"
	"net/netip"
	"slices"

	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/policy"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
)

const (
	loopbackIf = "lo"
	dnsPort    = 53
	httpPort   = 80
	httpsPort  = 443

	ctReplies = "ESTABLISHED,RELATED"
)

var webPorts = []uint16{httpPort, httpsPort}

func icmpProto(f platform.Family) string {
	if f == platform.IPv6 {
		return "ipv6-icmp"
	}
	return "icmp"
}

// Compiler translates the network section of a policy into a RuleSet for a
// fixed list of families.
type Compiler struct {
	logger   hclog.Logger
	resolver Resolver
	families []platform.Family
}

// NewCompiler returns a Compiler emitting rules for families. Domains in
// the whitelist are looked up with resolver.
func NewCompiler(logger hclog.Logger, resolver Resolver, families ...platform.Family) *Compiler {
	if len(families) == 0 {
		families = []platform.Family{platform.IPv4, platform.IPv6}
	}
	return &Compiler{
		logger:   logger,
		resolver: resolver,
		families: families,
	}
}

// Base compiles the deny-all default and the mandatory allows. Nothing in
// it depends on name resolution, so it can be loaded before the resolver
// is reachable.
func (c *Compiler) Base() *RuleSet {
	rs := new(RuleSet)
	for _, f := range c.families {
		for _, chain := range Chains {
			rs.add(Rule{Stage: StageDefault, Family: f, Op: OpPolicy, Chain: chain, Target: TargetDrop})
		}
		for _, chain := range Chains {
			rs.add(Rule{Stage: StageDefault, Family: f, Op: OpFlush, Chain: chain})
		}
	}

	for _, f := range c.families {
		appendRule := func(r Rule) {
			r.Stage, r.Family, r.Op, r.Target = StageMandatory, f, OpAppend, TargetAccept
			rs.add(r)
		}

		appendRule(Rule{Chain: ChainInput, InIf: loopbackIf})
		appendRule(Rule{Chain: ChainOutput, OutIf: loopbackIf})

		appendRule(Rule{Chain: ChainInput, CtState: ctReplies})
		appendRule(Rule{Chain: ChainOutput, CtState: ctReplies})

		for _, proto := range []string{"udp", "tcp"} {
			appendRule(Rule{Chain: ChainOutput, Proto: proto, DPort: dnsPort})
			appendRule(Rule{Chain: ChainInput, Proto: proto, SPort: dnsPort})
		}

		appendRule(Rule{Chain: ChainOutput, Proto: icmpProto(f)})
		appendRule(Rule{Chain: ChainInput, Proto: icmpProto(f)})
	}
	return rs
}

// Restricted compiles the whitelist, the escape hatch and the network mode.
// Domain entries are resolved here, once; a lookup failure skips the entry.
func (c *Compiler) Restricted(ctx context.Context, p *policy.Policy) *RuleSet {
	rs := new(RuleSet)

	for _, addr := range c.whitelistAddrs(ctx, p) {
		f := platform.FamilyOf(addr)
		if !slices.Contains(c.families, f) {
			c.logger.Warn("skipping whitelist address, family not filtered", "addr", addr, "family", f)
			continue
		}
		for _, port := range webPorts {
			rs.add(Rule{
				Stage:  StageWhitelist,
				Family: f,
				Op:     OpAppend,
				Chain:  ChainOutput,
				Proto:  "tcp",
				Dst:    addr,
				DPort:  port,
				Target: TargetAccept,
			})
		}
	}

	if p.OpenEgress() {
		if p.WhitelistBypassed() {
			c.logger.Warn("allow_all_https is set, the network whitelist does not restrict ports 80 and 443")
		}
		for _, f := range c.families {
			for _, port := range webPorts {
				rs.add(Rule{
					Stage:  StageEscape,
					Family: f,
					Op:     OpAppend,
					Chain:  ChainOutput,
					Proto:  "tcp",
					DPort:  port,
					Target: TargetAccept,
				})
			}
		}
	}

	if p.NetworkMode() == policy.NetworkModeAllow {
		for _, f := range c.families {
			rs.add(Rule{Stage: StageAllowMode, Family: f, Op: OpAppend, Chain: ChainOutput, Target: TargetAccept})
		}
	}
	return rs
}

// Compile returns the full program, Base followed by Restricted.
func (c *Compiler) Compile(ctx context.Context, p *policy.Policy) *RuleSet {
	rs := c.Base()
	rs.extend(c.Restricted(ctx, p))
	return rs
}

// whitelistAddrs returns every literal and resolved address of the
// whitelist, once, in entry order.
func (c *Compiler) whitelistAddrs(ctx context.Context, p *policy.Policy) []netip.Addr {
	seen := set.New[netip.Addr](0)
	var addrs []netip.Addr
	add := func(a netip.Addr) {
		if seen.Insert(a.Unmap()) {
			addrs = append(addrs, a.Unmap())
		}
	}

	for _, entry := range p.Whitelist() {
		if entry.Kind == policy.EntryLiteral {
			add(entry.Addr)
			continue
		}

		resolved, err := c.resolver.LookupIP(ctx, entry.Value)
		if err != nil {
			c.logger.Warn("failed to resolve whitelist domain, skipping", "domain", entry.Value, "error", err)
			continue
		}
		c.logger.Debug("resolved whitelist domain", "domain", entry.Value, "addrs", resolved)
		for _, a := range resolved {
			add(a)
		}
	}
	return addrs
}
