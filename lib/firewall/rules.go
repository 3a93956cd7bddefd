// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package firewall

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/hashicorp/ai-run/lib/platform"
)

// Stage groups rules by the compilation step that produced them. Stages are
// always loaded in ascending order.
type Stage uint8

const (
	StageDefault Stage = iota
	StageMandatory
	StageWhitelist
	StageEscape
	StageAllowMode
)

func (s Stage) String() string {
	switch s {
	case StageDefault:
		return "default"
	case StageMandatory:
		return "mandatory"
	case StageWhitelist:
		return "whitelist"
	case StageEscape:
		return "escape"
	case StageAllowMode:
		return "allow-mode"
	}
	return "stage-" + strconv.Itoa(int(s))
}

// Op is what a rule does to its chain.
type Op uint8

const (
	// OpPolicy sets the default target of a built-in chain.
	OpPolicy Op = iota

	// OpFlush removes every rule from a chain.
	OpFlush

	// OpAppend appends a match rule to a chain.
	OpAppend
)

// Table is the only table the sandbox firewall writes to.
const Table = "filter"

const (
	ChainInput   = "INPUT"
	ChainOutput  = "OUTPUT"
	ChainForward = "FORWARD"

	TargetAccept = "ACCEPT"
	TargetDrop   = "DROP"
)

// Chains are the built-in chains of Table, in the order they are reset.
var Chains = []string{ChainInput, ChainOutput, ChainForward}

// Rule is one operation of a compiled firewall program. Zero match fields
// match anything.
type Rule struct {
	Stage  Stage
	Family platform.Family
	Op     Op
	Chain  string

	// Target is the policy of an OpPolicy rule or the jump of an OpAppend
	// rule.
	Target string

	Proto   string
	InIf    string
	OutIf   string
	Dst     netip.Addr
	SPort   uint16
	DPort   uint16
	CtState string
}

// Spec renders the match and jump of an OpAppend rule in iptables syntax.
func (r Rule) Spec() []string {
	var spec []string
	if r.InIf != "" {
		spec = append(spec, "-i", r.InIf)
	}
	if r.OutIf != "" {
		spec = append(spec, "-o", r.OutIf)
	}
	if r.Proto != "" {
		spec = append(spec, "-p", r.Proto)
	}
	if r.Dst.IsValid() {
		spec = append(spec, "-d", r.Dst.String())
	}
	if r.SPort != 0 {
		spec = append(spec, "--sport", strconv.Itoa(int(r.SPort)))
	}
	if r.DPort != 0 {
		spec = append(spec, "--dport", strconv.Itoa(int(r.DPort)))
	}
	if r.CtState != "" {
		spec = append(spec, "-m", "conntrack", "--ctstate", r.CtState)
	}
	return append(spec, "-j", r.Target)
}

func (r Rule) String() string {
	switch r.Op {
	case OpPolicy:
		return fmt.Sprintf("%s %s -P %s %s", r.Family, Table, r.Chain, r.Target)
	case OpFlush:
		return fmt.Sprintf("%s %s -F %s", r.Family, Table, r.Chain)
	default:
		return fmt.Sprintf("%s %s -A %s %s", r.Family, Table, r.Chain, strings.Join(r.Spec(), " "))
	}
}

// Packet describes a connection attempt for RuleSet.Permits. State is
// empty for new connections.
type Packet struct {
	Chain string
	Proto string
	InIf  string
	OutIf string
	Dst   netip.Addr
	SPort uint16
	DPort uint16
	State string
}

func (r Rule) matches(p Packet) bool {
	switch {
	case r.Chain != p.Chain:
		return false
	case r.Proto != "" && r.Proto != p.Proto:
		return false
	case r.InIf != "" && r.InIf != p.InIf:
		return false
	case r.OutIf != "" && r.OutIf != p.OutIf:
		return false
	case r.Dst.IsValid() && r.Dst != p.Dst.Unmap():
		return false
	case r.SPort != 0 && r.SPort != p.SPort:
		return false
	case r.DPort != 0 && r.DPort != p.DPort:
		return false
	case r.CtState != "" && (p.State == "" || !slices.Contains(strings.Split(r.CtState, ","), p.State)):
		return false
	}
	return true
}

// RuleSet is an ordered firewall program. The order is load bearing: the
// default policy and the mandatory allows precede anything that depends on
// name resolution.
type RuleSet struct {
	rules []Rule
}

func (rs *RuleSet) add(r Rule) {
	rs.rules = append(rs.rules, r)
}

func (rs *RuleSet) extend(other *RuleSet) {
	rs.rules = append(rs.rules, other.rules...)
}

// Rules returns a copy of the program.
func (rs *RuleSet) Rules() []Rule {
	return slices.Clone(rs.rules)
}

// Len is the number of rules in the program.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Stage returns the rules produced by stage s.
func (rs *RuleSet) Stage(s Stage) []Rule {
	var out []Rule
	for _, r := range rs.rules {
		if r.Stage == s {
			out = append(out, r)
		}
	}
	return out
}

// Families returns the families the program touches.
func (rs *RuleSet) Families() []platform.Family {
	var out []platform.Family
	for _, r := range rs.rules {
		if !slices.Contains(out, r.Family) {
			out = append(out, r.Family)
		}
	}
	return out
}

// Permits evaluates the program against p the way the kernel would: the
// first matching appended rule decides, otherwise the chain policy does.
// The family is taken from the destination, defaulting to IPv4.
func (rs *RuleSet) Permits(p Packet) bool {
	family := platform.IPv4
	if p.Dst.IsValid() {
		family = platform.FamilyOf(p.Dst)
	}

	policy := TargetAccept
	var chain []Rule
	for _, r := range rs.rules {
		if r.Family != family || r.Chain != p.Chain {
			continue
		}
		switch r.Op {
		case OpPolicy:
			policy = r.Target
		case OpFlush:
			chain = chain[:0]
		case OpAppend:
			chain = append(chain, r)
		}
	}

	for _, r := range chain {
		if r.matches(p) {
			return r.Target == TargetAccept
		}
	}
	return policy == TargetAccept
}
