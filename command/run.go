// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/ai-run/helper/users"
	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/policy"
	"github.com/hashicorp/ai-run/registry"
	"github.com/hashicorp/ai-run/sandbox"
	"github.com/posener/complete"
)

type RunCommand struct {
	Meta

	// platform defaults to platform.Default
	platform *platform.Platform
}

func (c *RunCommand) Help() string {
	helpText := `
Usage: ai-run run [options] <policy.yaml> [<command> [<args>...]]

  Runs a command inside a new sandbox governed by the given policy. Without a
  command the configured shell is started. The sandbox has its own mount and
  network namespaces, a default-deny firewall, a syscall filter and empty
  overlays on every protected path. The exit status is the exit status of
  the command.

  This command must run as root, usually through sudo. Paths starting with ~
  and the USERNAME placeholder expand to the user who invoked sudo.

General Options:

  ` + generalOptionsUsage(FlagSetSandbox) + `

Run Options:

  -shell=<path>
    Shell started when no command is given. Defaults to /bin/bash.

  -dns=<addr>
    Resolver the sandbox is pointed at. Defaults to 8.8.8.8.

  -host-interface=<name>
    Name of the host end of the veth pair. Defaults to veth-host.

  -sandbox-interface=<name>
    Name of the sandbox end of the veth pair. Defaults to veth-sandbox.

  -registry=<path>
    Session file the run is recorded in.
`
	return strings.TrimSpace(helpText)
}

func (c *RunCommand) Synopsis() string {
	return "Run a command inside a sandbox"
}

func (c *RunCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetSandbox),
		complete.Flags{
			"-shell":             complete.PredictFiles("*"),
			"-dns":               complete.PredictAnything,
			"-host-interface":    complete.PredictAnything,
			"-sandbox-interface": complete.PredictAnything,
			"-registry":          complete.PredictFiles("*.json"),
		})
}

func (c *RunCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictFiles("*.yaml")
}

func (c *RunCommand) Name() string { return "run" }

func (c *RunCommand) Run(args []string) int {
	overrides := new(sandbox.Config)

	flags := c.Meta.FlagSet(c.Name(), FlagSetSandbox)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&overrides.Shell, "shell", "", "")
	flags.StringVar(&overrides.HostInterface, "host-interface", "", "")
	flags.StringVar(&overrides.SandboxInterface, "sandbox-interface", "", "")
	flags.StringVar(&overrides.RegistryPath, "registry", "", "")
	flags.Var((funcVar)(func(s string) error {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return err
		}
		overrides.DNSServer = addr
		return nil
	}), "dns", "")

	if err := flags.Parse(args); err != nil {
		return 1
	}

	args = flags.Args()
	if len(args) < 1 {
		return c.errorf(c, "This command takes at least one argument: <policy.yaml>")
	}
	policyPath, command := args[0], args[1:]

	config, err := c.loadConfig(overrides)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading configuration: %v", err))
		return 1
	}
	logger := c.Logger(config.LogLevel)

	invoker, err := users.RealUser()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error determining invoking user: %v", err))
		return 1
	}

	pol, err := policy.Load(policyPath, invoker.Name)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading policy: %v", err))
		return 1
	}
	if pol.WhitelistBypassed() {
		c.Ui.Warn(wrapAtLength("WARNING! allow_all_https is set, so network_whitelist " +
			"does not restrict HTTP and HTTPS traffic."))
	}

	p := c.platform
	if p == nil {
		p = platform.Default()
	}

	orch := sandbox.NewOrchestrator(logger, config, p, registry.NewFile(logger, config.RegistryPath),
		sandbox.WithInvoker(func() (*users.Invoker, error) { return invoker, nil }))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	code, err := orch.Run(ctx, pol, command)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error running sandbox: %v", err))
		if errors.Is(err, sandbox.ErrPrivilege) {
			c.Ui.Error("ai-run needs root privileges, try again with sudo")
		}
	}
	return code
}
