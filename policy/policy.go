// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package policy holds the parsed sandbox policy. A Policy is immutable once
// constructed; every accessor returns a copy.
package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"
	"github.com/miekg/dns"
)

// ErrInvalid is wrapped by every validation failure returned from New.
var ErrInvalid = errors.New("invalid policy")

// NetworkMode is the default network posture of the sandbox.
type NetworkMode string

const (
	// NetworkModeDeny denies all egress except what the whitelist allows.
	NetworkModeDeny NetworkMode = "DENY"

	// NetworkModeAllow installs the restricted program and then allows all
	// remaining egress. Intended for testing policies.
	NetworkModeAllow NetworkMode = "ALLOW"
)

// EntryKind tags a whitelist entry.
type EntryKind uint8

const (
	EntryDomain EntryKind = iota
	EntryLiteral
)

func (k EntryKind) String() string {
	switch k {
	case EntryLiteral:
		return "literal-address"
	default:
		return "domain"
	}
}

// WhitelistEntry is a single network whitelist item.
type WhitelistEntry struct {
	Value string
	Kind  EntryKind

	// Addr is only valid for EntryLiteral.
	Addr netip.Addr
}

// ParseWhitelistEntry classifies s as a literal IPv4/IPv6 address or a domain
// name.
func ParseWhitelistEntry(s string) (WhitelistEntry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return WhitelistEntry{}, errors.New("empty whitelist entry")
	}

	literal := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if addr, err := netip.ParseAddr(literal); err == nil {
		return WhitelistEntry{Value: s, Kind: EntryLiteral, Addr: addr.Unmap()}, nil
	}

	name := strings.TrimSuffix(strings.ToLower(s), ".")
	if _, ok := dns.IsDomainName(name); !ok || strings.ContainsAny(name, " /:*") {
		return WhitelistEntry{}, fmt.Errorf("whitelist entry %q is neither an IP address nor a domain name", s)
	}
	return WhitelistEntry{Value: name, Kind: EntryDomain}, nil
}

// Definition is the raw, mutable form of a policy as it appears in a policy
// file. It is also the form sent to the confined process.
type Definition struct {
	Source               string   `yaml:"-" codec:"source"`
	ProtectedFiles       []string `yaml:"protected_files" codec:"protected_files"`
	NetworkWhitelist     []string `yaml:"network_whitelist" codec:"network_whitelist"`
	DefaultNetworkPolicy string   `yaml:"default_network_policy" codec:"default_network_policy"`
	AllowAllHTTPS        bool     `yaml:"allow_all_https" codec:"allow_all_https"`
	BlockedSyscalls      []string `yaml:"blocked_syscalls" codec:"blocked_syscalls"`
}

// Policy is a validated, immutable policy.
type Policy struct {
	def Definition

	protectedPaths  []string
	whitelist       []WhitelistEntry
	mode            NetworkMode
	allowAllHTTPS   bool
	blockedSyscalls []string
}

// New validates def and returns the immutable policy built from it. Duplicate
// paths, entries and syscall names are dropped, keeping the first occurrence.
func New(def Definition) (*Policy, error) {
	var mErr multierror.Error

	p := &Policy{
		def:           def.copy(),
		allowAllHTTPS: def.AllowAllHTTPS,
	}

	switch mode := NetworkMode(strings.ToUpper(strings.TrimSpace(def.DefaultNetworkPolicy))); mode {
	case "":
		p.mode = NetworkModeDeny
	case NetworkModeDeny, NetworkModeAllow:
		p.mode = mode
	default:
		_ = multierror.Append(&mErr, fmt.Errorf("unknown default_network_policy %q (want DENY or ALLOW)", def.DefaultNetworkPolicy))
	}

	seenPaths := set.New[string](len(def.ProtectedFiles))
	for _, path := range def.ProtectedFiles {
		path = strings.TrimSpace(path)
		switch {
		case path == "":
			continue
		case path != "~" && !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "~/"):
			_ = multierror.Append(&mErr, fmt.Errorf("protected path %q must be absolute or start with ~/", path))
			continue
		}
		if seenPaths.Insert(path) {
			p.protectedPaths = append(p.protectedPaths, path)
		}
	}

	seenEntries := set.New[string](len(def.NetworkWhitelist))
	for _, raw := range def.NetworkWhitelist {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		entry, err := ParseWhitelistEntry(raw)
		if err != nil {
			_ = multierror.Append(&mErr, err)
			continue
		}
		if seenEntries.Insert(entry.Value) {
			p.whitelist = append(p.whitelist, entry)
		}
	}

	seenSyscalls := set.New[string](len(def.BlockedSyscalls))
	for _, name := range def.BlockedSyscalls {
		name = strings.TrimSpace(name)
		if name != "" && seenSyscalls.Insert(name) {
			p.blockedSyscalls = append(p.blockedSyscalls, name)
		}
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return p, nil
}

func (d Definition) copy() Definition {
	d.ProtectedFiles = slices.Clone(d.ProtectedFiles)
	d.NetworkWhitelist = slices.Clone(d.NetworkWhitelist)
	d.BlockedSyscalls = slices.Clone(d.BlockedSyscalls)
	return d
}

// Definition returns a copy of the definition the policy was built from.
func (p *Policy) Definition() Definition { return p.def.copy() }

// Source is the file the policy was loaded from, if any.
func (p *Policy) Source() string { return p.def.Source }

// ProtectedPaths returns the paths to conceal, in declaration order. Paths may
// still be home-relative.
func (p *Policy) ProtectedPaths() []string { return slices.Clone(p.protectedPaths) }

// Whitelist returns the network whitelist in declaration order.
func (p *Policy) Whitelist() []WhitelistEntry { return slices.Clone(p.whitelist) }

func (p *Policy) NetworkMode() NetworkMode { return p.mode }

func (p *Policy) AllowAllHTTPS() bool { return p.allowAllHTTPS }

// BlockedSyscalls returns the syscall names to deny, in declaration order.
func (p *Policy) BlockedSyscalls() []string { return slices.Clone(p.blockedSyscalls) }

// OpenEgress reports whether outbound HTTP(S) to any address is allowed:
// either allow_all_https is set or no whitelist was supplied.
func (p *Policy) OpenEgress() bool {
	return p.allowAllHTTPS || len(p.whitelist) == 0
}

// WhitelistBypassed reports the surprising combination of allow_all_https
// with a non-empty whitelist, where the whitelist no longer restricts
// anything.
func (p *Policy) WhitelistBypassed() bool {
	return p.allowAllHTTPS && len(p.whitelist) > 0
}
