// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package netbridge connects a sandbox network namespace to the host with a
// veth pair, masquerades its private subnet and points its resolver at a
// known-good DNS server.
package netbridge

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/hashicorp/ai-run/helper/fileperms"
	"github.com/hashicorp/ai-run/lib/platform"
	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
)

const (
	// DefaultHostIf is the host end of the veth pair. The name is fixed and
	// host-global, which limits a host to one active sandbox.
	DefaultHostIf = "veth-host"

	// DefaultSandboxIf is the end moved into the sandbox namespace.
	DefaultSandboxIf = "veth-sandbox"

	// DefaultResolvConf is the resolver file overlaid in the sandbox.
	DefaultResolvConf = "/etc/resolv.conf"

	// DefaultRuntimeDir holds the resolver file bound into the sandbox.
	DefaultRuntimeDir = "/run/ai-sandbox"

	loopbackIf = "lo"
)

var (
	// DefaultHostAddr is the host side of the sandbox subnet and the
	// sandbox's gateway.
	DefaultHostAddr = netip.MustParsePrefix("10.200.1.1/24")

	// DefaultSandboxAddr is the sandbox side of the subnet.
	DefaultSandboxAddr = netip.MustParsePrefix("10.200.1.2/24")

	// DefaultDNSServer is written into the sandbox resolver file.
	DefaultDNSServer = netip.MustParseAddr("8.8.8.8")
)

// Config describes the bridge. The zero value of any field selects its
// default.
type Config struct {
	HostIf      string
	SandboxIf   string
	HostAddr    netip.Prefix
	SandboxAddr netip.Prefix
	DNSServer   netip.Addr
	ResolvConf  string
	RuntimeDir  string
}

func (c Config) withDefaults() Config {
	if c.HostIf == "" {
		c.HostIf = DefaultHostIf
	}
	if c.SandboxIf == "" {
		c.SandboxIf = DefaultSandboxIf
	}
	if !c.HostAddr.IsValid() {
		c.HostAddr = DefaultHostAddr
	}
	if !c.SandboxAddr.IsValid() {
		c.SandboxAddr = DefaultSandboxAddr
	}
	if !c.DNSServer.IsValid() {
		c.DNSServer = DefaultDNSServer
	}
	if c.ResolvConf == "" {
		c.ResolvConf = DefaultResolvConf
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = DefaultRuntimeDir
	}
	return c
}

// Subnet is the private sandbox subnet.
func (c Config) Subnet() netip.Prefix {
	return c.withDefaults().HostAddr.Masked()
}

// Link describes the live veth pair of one session.
type Link struct {
	HostIf      string
	SandboxIf   string
	HostAddr    netip.Prefix
	SandboxAddr netip.Prefix

	// PID is the confined process whose network namespace holds SandboxIf.
	PID int
}

func (l *Link) String() string {
	return fmt.Sprintf("%s(%s) <-> %s(%s) pid=%d", l.HostIf, l.HostAddr, l.SandboxIf, l.SandboxAddr, l.PID)
}

// Builder builds both halves of the bridge. The host methods run in the
// controller, the sandbox methods in the confined process after it entered
// its namespaces.
type Builder struct {
	logger  hclog.Logger
	config  Config
	links   platform.Links
	sysctl  platform.Sysctl
	filters platform.PacketFilterFactory
	mounter platform.Mounter
}

// NewBuilder returns a Builder backed by the given platform.
func NewBuilder(logger hclog.Logger, config Config, p *platform.Platform) *Builder {
	return &Builder{
		logger:  logger.Named("netbridge"),
		config:  config.withDefaults(),
		links:   p.Links,
		sysctl:  p.Sysctl,
		filters: p.PacketFilters,
		mounter: p.Mounter,
	}
}

// SetupHost creates the veth pair, moves the sandbox end into the network
// namespace of pid, addresses and raises the host end, and enables NAT for
// the sandbox subnet. Any failure aborts setup; the caller still owns
// Teardown.
func (b *Builder) SetupHost(pid int) (*Link, error) {
	c := b.config

	// a crashed previous session may have left the host end behind
	if err := b.links.DeleteLink(c.HostIf); err != nil {
		return nil, fmt.Errorf("failed to remove stale link: %w", err)
	}

	if err := b.links.CreateVethPair(c.HostIf, c.SandboxIf); err != nil {
		return nil, err
	}
	if err := b.links.MoveToNamespace(c.SandboxIf, pid); err != nil {
		return nil, err
	}
	if err := b.links.SetAddress(c.HostIf, c.HostAddr); err != nil {
		return nil, err
	}
	if err := b.links.SetUp(c.HostIf); err != nil {
		return nil, err
	}

	if err := b.setupNAT(); err != nil {
		return nil, fmt.Errorf("failed to configure NAT: %w", err)
	}

	link := &Link{
		HostIf:      c.HostIf,
		SandboxIf:   c.SandboxIf,
		HostAddr:    c.HostAddr,
		SandboxAddr: c.SandboxAddr,
		PID:         pid,
	}
	b.logger.Info("network bridge ready", "link", link.String())
	return link, nil
}

// natRules are the host rules granting the sandbox subnet egress.
func (b *Builder) natRules() []rule {
	c := b.config
	return []rule{
		{table: "nat", chain: "POSTROUTING", spec: []string{"-s", c.Subnet().String(), "!", "-o", c.HostIf, "-j", "MASQUERADE"}},
		{table: "filter", chain: "FORWARD", spec: []string{"-i", c.HostIf, "-j", "ACCEPT"}},
		{table: "filter", chain: "FORWARD", spec: []string{"-o", c.HostIf, "-j", "ACCEPT"}},
	}
}

type rule struct {
	table string
	chain string
	spec  []string
}

func (b *Builder) setupNAT() error {
	if err := b.sysctl.EnableForwarding(); err != nil {
		return fmt.Errorf("failed to enable ip forwarding: %w", err)
	}

	ipt, err := b.filters(platform.IPv4)
	if err != nil {
		return err
	}
	for _, r := range b.natRules() {
		if err := ipt.AppendUnique(r.table, r.chain, r.spec...); err != nil {
			return fmt.Errorf("failed to add %s/%s rule: %w", r.table, r.chain, err)
		}
	}
	return nil
}

// Teardown removes the host end of the veth pair, which destroys its peer,
// and the NAT rules. It is safe to call when setup only partially ran.
func (b *Builder) Teardown() error {
	var mErr multierror.Error

	if ipt, err := b.filters(platform.IPv4); err != nil {
		_ = multierror.Append(&mErr, err)
	} else {
		for _, r := range b.natRules() {
			exists, err := ipt.Exists(r.table, r.chain, r.spec...)
			if err != nil {
				_ = multierror.Append(&mErr, err)
				continue
			}
			if exists {
				if err := ipt.Delete(r.table, r.chain, r.spec...); err != nil {
					_ = multierror.Append(&mErr, err)
				}
			}
		}
	}

	if err := b.links.DeleteLink(b.config.HostIf); err != nil {
		_ = multierror.Append(&mErr, err)
	}

	resolv := b.runtimeResolvConf()
	if err := os.Remove(resolv); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = multierror.Append(&mErr, err)
	}
	if err := b.restoreResolvConf(); err != nil {
		_ = multierror.Append(&mErr, fmt.Errorf("failed to restore %s: %w", b.config.ResolvConf, err))
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return err
	}
	b.logger.Info("network bridge removed", "link", b.config.HostIf)
	return nil
}

// SetupSandbox addresses the sandbox end, raises it and routes through the
// host end. Loopback is raised on a best-effort basis.
func (b *Builder) SetupSandbox() error {
	c := b.config

	if err := b.links.SetAddress(c.SandboxIf, c.SandboxAddr); err != nil {
		return err
	}
	if err := b.links.SetUp(c.SandboxIf); err != nil {
		return err
	}
	if err := b.links.AddDefaultRoute(c.SandboxIf, c.HostAddr.Addr()); err != nil {
		return err
	}

	if err := b.links.SetUp(loopbackIf); err != nil {
		b.logger.Warn("could not enable loopback, localhost will be unreachable", "error", err)
	}

	b.logger.Debug("sandbox network configured", "addr", c.SandboxAddr, "gateway", c.HostAddr.Addr())
	return nil
}

func (b *Builder) runtimeResolvConf() string {
	return filepath.Join(b.config.RuntimeDir, "resolv.conf")
}

// SetupDNS points the sandbox at the configured resolver by binding a
// generated resolver file over ResolvConf. This must run inside the private
// mount namespace. When the bind fails the generated file replaces
// ResolvConf itself, which the host sees too; the original is saved next to
// it and put back by Teardown.
func (b *Builder) SetupDNS() error {
	content := fmt.Sprintf("# generated by ai-run\nnameserver %s\n", b.config.DNSServer)

	if err := os.MkdirAll(b.config.RuntimeDir, fileperms.Oct755); err != nil {
		return b.copyResolvConf(content, err)
	}
	src := b.runtimeResolvConf()
	if err := os.WriteFile(src, []byte(content), fileperms.Oct644); err != nil {
		return b.copyResolvConf(content, err)
	}
	if err := b.mounter.Mount(src, b.config.ResolvConf, "", "bind"); err != nil {
		return b.copyResolvConf(content, err)
	}

	b.logger.Debug("resolver overridden", "nameserver", b.config.DNSServer)
	return nil
}

// resolvConfBackup holds the host resolver file while a copied one is in
// place.
func (b *Builder) resolvConfBackup() string {
	return b.config.ResolvConf + ".ai-run-orig"
}

func (b *Builder) copyResolvConf(content string, cause error) error {
	b.logger.Warn("could not overlay resolver file, replacing the host file until the session ends",
		"path", b.config.ResolvConf, "backup", b.resolvConfBackup(), "error", cause)

	if err := b.backupResolvConf(); err != nil {
		return fmt.Errorf("failed to configure DNS: cannot save %s: %w", b.config.ResolvConf, err)
	}
	if err := os.WriteFile(b.config.ResolvConf, []byte(content), fileperms.Oct644); err != nil {
		return fmt.Errorf("failed to configure DNS: %w", err)
	}
	return nil
}

func (b *Builder) backupResolvConf() error {
	backup := b.resolvConfBackup()

	// a backup left by a crashed session already holds the host file
	if _, err := os.Stat(backup); err == nil {
		return nil
	}

	orig, err := os.ReadFile(b.config.ResolvConf)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	return os.WriteFile(backup, orig, fileperms.Oct644)
}

func (b *Builder) restoreResolvConf() error {
	backup := b.resolvConfBackup()
	orig, err := os.ReadFile(backup)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	}

	if err := os.WriteFile(b.config.ResolvConf, orig, fileperms.Oct644); err != nil {
		return err
	}
	b.logger.Info("host resolver file restored", "path", b.config.ResolvConf)
	return os.Remove(backup)
}
