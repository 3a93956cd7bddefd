// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package sandbox

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/hashicorp/ai-run/helper/subproc"
	"github.com/hashicorp/ai-run/lib/conceal"
	"github.com/hashicorp/ai-run/lib/firewall"
	"github.com/hashicorp/ai-run/lib/netbridge"
	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/lib/syscallfilter"
	"github.com/hashicorp/ai-run/policy"
	hclog "github.com/hashicorp/go-hclog"
)

// dnsTimeout bounds each whitelist lookup made while compiling the firewall.
const dnsTimeout = 5 * time.Second

// ExecFunc replaces the calling process with argv. It only returns on
// failure.
type ExecFunc func(path string, argv []string, env []string) error

// Confined is the confined half of a session. It runs in the re-executed
// child with its main OS thread locked, so every namespace it creates
// applies to the thread that finally execs the command.
type Confined struct {
	logger   hclog.Logger
	platform *platform.Platform
	rv       *Rendezvous
	exec     ExecFunc

	// resolver overrides the resolver built from the sandbox resolv.conf
	resolver firewall.Resolver
}

// NewConfined returns the confined half talking to its controller over rv.
func NewConfined(logger hclog.Logger, p *platform.Platform, rv *Rendezvous, exec ExecFunc) *Confined {
	return &Confined{
		logger:   logger,
		platform: p,
		rv:       rv,
		exec:     exec,
	}
}

// Run performs the confined side of the setup and hands the process over to
// the command. A fatal error is reported to the controller and yields a
// non-zero status; on success Run does not return unless exec is not a real
// execve.
func (c *Confined) Run(ctx context.Context) int {
	m, err := c.rv.Await(KindBootstrap, DefaultConfig().NamespaceTimeout)
	if err != nil || m.Bootstrap == nil {
		c.logger.Error("did not receive bootstrap", "error", err)
		return subproc.ExitFailure
	}
	boot := m.Bootstrap

	if boot.LogLevel != "" {
		c.logger.SetLevel(hclog.LevelFromString(boot.LogLevel))
	}

	if err := c.confine(ctx, boot); err != nil {
		c.logger.Error("sandbox setup failed", "error", err)
		if serr := c.rv.SendFailure(err); serr != nil {
			c.logger.Debug("could not report failure to controller", "error", serr)
		}
		return subproc.ExitFailure
	}
	return subproc.ExitSuccess
}

func (c *Confined) confine(ctx context.Context, boot *Bootstrap) error {
	config := DefaultConfig().Merge(&boot.Config)

	pol, err := policy.New(boot.Policy)
	if err != nil {
		return err
	}

	ns := c.platform.Namespaces
	if err := ns.UnshareMount(); err != nil {
		return err
	}
	if err := ns.MakeRootPrivate(); err != nil {
		return err
	}
	if err := ns.UnshareNetwork(); err != nil {
		return err
	}

	if err := c.rv.Send(Message{Kind: KindNamespacesReady}); err != nil {
		return err
	}
	if _, err := c.rv.Await(KindNetworkReady, config.NetworkTimeout); err != nil {
		return fmt.Errorf("host network not ready: %w", err)
	}

	bridge := netbridge.NewBuilder(c.logger, config.Bridge(), c.platform)
	if err := bridge.SetupSandbox(); err != nil {
		return fmt.Errorf("failed to configure sandbox network: %w", err)
	}
	if err := bridge.SetupDNS(); err != nil {
		return err
	}

	installer := firewall.NewInstaller(c.logger, c.platform.PacketFilters, c.whitelistResolver(config))
	if _, err := installer.Install(ctx, pol); err != nil {
		return err
	}

	// Filtering mount or execve here also blocks the concealment and the
	// handoff below.
	if paths := pol.ProtectedPaths(); len(paths) > 0 && slices.Contains(pol.BlockedSyscalls(), "mount") {
		c.logger.Warn("policy blocks mount, protected paths will stay visible inside the sandbox",
			"protected_paths", len(paths))
	}
	filter := syscallfilter.NewBuilder(c.logger, c.platform.Syscalls)
	if _, err := filter.Apply(pol.BlockedSyscalls()); err != nil {
		return err
	}

	concealer, err := conceal.New(c.logger, c.platform, boot.Home, config.TmpfsSize)
	if err != nil {
		return err
	}
	if _, err := concealer.Conceal(pol.ProtectedPaths()); err != nil {
		return err
	}

	argv := boot.Command
	if len(argv) == 0 {
		argv = []string{config.Shell}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("cannot run %q: %w", argv[0], err)
	}

	// the command must not inherit the control channel
	_ = c.rv.Close()

	c.logger.Debug("handing off", "path", path, "argv", argv)
	if err := c.exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("failed to execute %q: %w", path, err)
	}
	return nil
}

// whitelistResolver queries the resolvers of the sandbox resolv.conf,
// falling back to the configured DNS server.
func (c *Confined) whitelistResolver(config *Config) firewall.Resolver {
	if c.resolver != nil {
		return c.resolver
	}
	r, err := firewall.NewSystemResolver(config.ResolvConf, firewall.DefaultHostsFile)
	if err == nil {
		return r
	}
	c.logger.Warn("cannot read sandbox resolver config, using configured DNS server", "error", err)
	return firewall.NewDNSResolver(dnsTimeout, net.JoinHostPort(config.DNSServer.String(), "53"))
}
